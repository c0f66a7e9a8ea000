package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CustomErrorHandler creates a JSON error handler for Echo
func CustomErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	errorMessage := ""

	// Check if it's an Echo HTTPError
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code

		// Try to extract message from HTTPError
		if msg, ok := he.Message.(string); ok && msg != "" {
			errorMessage = msg
		}

		if errorMessage == "" {
			switch code {
			case http.StatusNotFound:
				errorMessage = "resource not found"
			case http.StatusForbidden:
				errorMessage = "access denied"
			case http.StatusUnauthorized:
				errorMessage = "unauthorized"
			case http.StatusBadRequest:
				errorMessage = "the request could not be processed"
			default:
				errorMessage = "something went wrong"
			}
		}
	} else {
		// Non-HTTPError, use default
		errorMessage = "something went wrong"
	}

	// Log the error
	c.Logger().Error(err)

	if c.Response().Committed {
		return
	}
	if writeErr := c.JSON(code, map[string]string{"error": errorMessage}); writeErr != nil {
		c.Logger().Error(writeErr)
	}
}
