package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"leasebill_app_echo/internal/billing"
	"leasebill_app_echo/internal/handlers"
	authMiddleware "leasebill_app_echo/internal/middleware"
	"leasebill_app_echo/internal/services"
	"leasebill_app_echo/internal/store"
	"leasebill_app_echo/internal/tasks"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Firebase
	credPath := os.Getenv("FIREBASE_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = "./firebase-service-account.json"
	}

	authClient, err := services.InitFirebase(credPath)
	if err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Auth features will not work until valid credentials are provided")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Redis caches the billing stats responses; the API falls back to the
	// database without it
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			log.Printf("Warning: Redis unavailable, stats caching disabled: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	// The API process only reads billing state and enqueues tasks; charging
	// stays in the worker, so the engine here runs without a gateway.
	repo := store.NewRepository(db)
	engine := billing.NewEngine(repo, nil, &tasks.TaskNotifier{DB: db}, nil, billing.DefaultConfig())

	// Create Echo instance
	e := echo.New()
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Initialize handlers
	billingHandler := handlers.NewBillingHandler(db, repo, engine, cache)

	// Health check
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Protected API routes
	api := e.Group("/api")
	api.Use(authMiddleware.RequireAuth(authClient))

	api.GET("/customers/:id/billing-stats", billingHandler.CustomerBillingStats)
	api.GET("/invoices", billingHandler.ListInvoices)
	api.GET("/invoices/:id/attempts", billingHandler.ListInvoiceAttempts)
	api.POST("/billing/run", billingHandler.TriggerBillingRun)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	e.Logger.Fatal(e.Start(":" + port))
}
