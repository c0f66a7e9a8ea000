package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"leasebill_app_echo/internal/billing"
	"leasebill_app_echo/internal/services"
	"leasebill_app_echo/internal/store"
	"leasebill_app_echo/internal/tasks"
)

// BillingHandler serves the read-side billing API and the admin trigger
type BillingHandler struct {
	db     *gorm.DB
	repo   *store.Repository
	engine *billing.Engine
	cache  *services.RedisCache
}

func NewBillingHandler(db *gorm.DB, repo *store.Repository, engine *billing.Engine, cache *services.RedisCache) *BillingHandler {
	return &BillingHandler{db: db, repo: repo, engine: engine, cache: cache}
}

// CustomerBillingStats returns the monthly billing statistics for a customer.
// Results are cached for a few minutes, the aggregation walks every invoice
// of the month.
func (h *BillingHandler) CustomerBillingStats(c echo.Context) error {
	customerID, err := parseUintParam(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid customer id")
	}

	month := time.Now().UTC()
	if monthStr := c.QueryParam("month"); monthStr != "" {
		month, err = time.Parse("2006-01", monthStr)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid month, expected YYYY-MM")
		}
	}

	ctx := c.Request().Context()
	cacheKey := fmt.Sprintf("billing:stats:%d:%s", customerID, month.Format("2006-01"))

	stats, err := services.GetOrSet(h.cache, ctx, cacheKey, 5*time.Minute, func() (*billing.BillingStats, error) {
		return h.engine.MonthlyStats(ctx, customerID, month)
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to aggregate billing stats")
	}

	return c.JSON(http.StatusOK, stats)
}

// ListInvoices lists invoices, optionally filtered by contract and status
func (h *BillingHandler) ListInvoices(c echo.Context) error {
	var contractID *uint
	if raw := c.QueryParam("contract_id"); raw != "" {
		val, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid contract_id")
		}
		id := uint(val)
		contractID = &id
	}

	status := c.QueryParam("status")
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val > 0 && val <= 200 {
			limit = val
		}
	}

	invoices, err := h.repo.ListInvoices(c.Request().Context(), contractID, status, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list invoices")
	}

	return c.JSON(http.StatusOK, ListInvoicesResponse{Invoices: invoices, Count: len(invoices)})
}

// ListInvoiceAttempts returns the attempt log of one invoice
func (h *BillingHandler) ListInvoiceAttempts(c echo.Context) error {
	invoiceID, err := parseUintParam(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice id")
	}

	attempts, err := h.repo.ListAttempts(c.Request().Context(), invoiceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list attempts")
	}

	return c.JSON(http.StatusOK, ListAttemptsResponse{Attempts: attempts, Count: len(attempts)})
}

// TriggerBillingRun enqueues a one-time billing cycle task. The pass never
// runs inline in the request; the worker picks the task up on its next tick.
func (h *BillingHandler) TriggerBillingRun(c echo.Context) error {
	var req TriggerBillingRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		parsed, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid as_of, expected RFC3339")
		}
		asOf = parsed.UTC()
	}

	task, err := tasks.RunBillingCycleTask.CreateTask(asOf)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build task")
	}
	if err := h.db.WithContext(c.Request().Context()).Create(task).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue task")
	}

	return c.JSON(http.StatusAccepted, TriggerBillingRunResponse{
		TaskID: task.ID,
		AsOf:   asOf.Format(time.RFC3339),
	})
}

func parseUintParam(c echo.Context, name string) (uint, error) {
	val, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(val), nil
}
