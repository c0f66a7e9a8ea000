package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"leasebill_app_echo/internal/billing"
	"leasebill_app_echo/internal/models"
	"leasebill_app_echo/internal/services"
	"leasebill_app_echo/internal/store"
	"leasebill_app_echo/internal/tasks"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
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
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Redis backs the per-contract billing lock; the engine degrades to the
	// DB unique index without it
	var locker billing.Locker
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err := services.NewRedisCache(redisURL)
		if err != nil {
			log.Printf("Warning: Redis unavailable, billing locks disabled: %v", err)
		} else {
			defer cache.Close()
			locker = cache
		}
	}

	// Wire the billing engine
	repo := store.NewRepository(db)
	gateway := services.NewMidtransGateway()
	notifier := &tasks.TaskNotifier{DB: db}
	engine := billing.NewEngine(repo, gateway, notifier, locker, billingConfigFromEnv())

	// Initialize Task Registry
	deps := &tasks.Deps{
		DB:     db,
		Engine: engine,
		Email:  services.NewEmailService(),
		Waha:   services.NewWahaService(),
	}
	tasks.DefineTasks()

	// Seed the daily billing cycle so a fresh database starts billing
	// without manual scheduling
	if err := tasks.EnsureRecurringTask(db, tasks.RunBillingCycleTask.TaskID(), tasks.BillingCycleRule, nextBillingTime(), 1); err != nil {
		log.Fatalf("Failed to seed billing cycle task: %v", err)
	}

	pollInterval := 1 * time.Minute
	if raw := os.Getenv("WORKER_POLL_INTERVAL_SECONDS"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val > 0 {
			pollInterval = time.Duration(val) * time.Second
		}
	}

	log.Println("Worker started. Waiting for next tick...")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down worker...")
		cancel()
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Run once on start so a restarted worker catches up immediately
	processScheduledTasks(ctx, deps)

	for {
		select {
		case <-ticker.C:
			processScheduledTasks(ctx, deps)
		case <-ctx.Done():
			return
		}
	}
}

// billingConfigFromEnv reads the collection policy overrides
func billingConfigFromEnv() billing.Config {
	cfg := billing.DefaultConfig()
	if raw := os.Getenv("BILLING_MAX_RETRY_ATTEMPTS"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val > 0 {
			cfg.MaxRetryAttempts = val
		}
	}
	if raw := os.Getenv("BILLING_RETRY_INTERVAL_HOURS"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val > 0 {
			cfg.RetryInterval = time.Duration(val) * time.Hour
		}
	}
	if raw := os.Getenv("BILLING_GRACE_DAYS"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val > 0 {
			cfg.GraceDays = val
		}
	}
	if raw := os.Getenv("GATEWAY_TIMEOUT_SECONDS"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val > 0 {
			cfg.GatewayTimeout = time.Duration(val) * time.Second
		}
	}
	return cfg
}

// nextBillingTime is the first due time for a freshly seeded billing cycle
// task: the next 02:00 UTC.
func nextBillingTime() time.Time {
	now := time.Now().UTC()
	due := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, time.UTC)
	if !due.After(now) {
		due = due.AddDate(0, 0, 1)
	}
	return due
}

func processScheduledTasks(ctx context.Context, deps *tasks.Deps) {
	log.Println("Checking for pending tasks...")

	var pendingTasks []models.ScheduledTask
	now := time.Now()
	if err := deps.DB.Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).Find(&pendingTasks).Error; err != nil {
		log.Printf("Error fetching pending tasks: %v", err)
		return
	}

	if len(pendingTasks) == 0 {
		log.Println("No pending tasks found.")
		return
	}

	log.Printf("Found %d pending tasks.", len(pendingTasks))

	for _, task := range pendingTasks {
		// Check context cancellation
		if ctx.Err() != nil {
			return
		}

		executeTask(ctx, deps, task, 1)
	}
}

func executeTask(ctx context.Context, deps *tasks.Deps, task models.ScheduledTask, curAttempt int) {
	log.Printf("Processing task: %s (ID: %d)", task.TaskName, task.ID)

	handler, found := tasks.GetHandler(task.TaskName)
	if !found {
		log.Printf("Task handler not found for: %s. Marking as failure.", task.TaskName)

		now := time.Now()
		deps.DB.Model(&task).Updates(map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})

		history := models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   curAttempt,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		}
		deps.DB.Create(&history)
		return
	}

	// Execute task
	startTime := time.Now()
	result, err := handler(ctx, deps, task)
	duration := time.Since(startTime)

	status := "success"
	var resultData map[string]interface{}
	if err != nil {
		status = "failure"
		resultData = map[string]interface{}{"error": err.Error()}
		log.Printf("Task %s failed: %v", task.TaskName, err)
	} else {
		resultData = result
		log.Printf("Task %s completed successfully.", task.TaskName)
	}

	// Create History
	history := models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           startTime,
		RuntimeMs:       int(duration.Milliseconds()),
		Status:          status,
		AttemptNumber:   curAttempt,
		Arguments:       task.Arguments,
		Result:          resultData,
	}
	deps.DB.Create(&history)

	// Update ScheduledTask
	taskUpdates := map[string]interface{}{
		"last_run": &startTime,
	}

	if status != "success" {
		if curAttempt < task.MaxAttempt {
			executeTask(ctx, deps, task, curAttempt+1)
			return
		}
		taskUpdates["status"] = models.ScheduledTaskStatusFailure
	} else {
		switch task.TaskType {
		case models.ScheduledTaskTypeOneTime:
			taskUpdates["status"] = models.ScheduledTaskStatusDone
		case models.ScheduledTaskTypeRecurring:
			nextDue := task.NextDue()
			// check if the next due is a future date, to avoid the task from being executed repeatedly
			isNextDueFuture := nextDue.After(task.Due)
			if isNextDueFuture {
				taskUpdates["status"] = models.ScheduledTaskStatusActive
				taskUpdates["due"] = nextDue
			} else {
				taskUpdates["status"] = models.ScheduledTaskStatusDone
			}
		}
	}

	deps.DB.Model(&task).Updates(taskUpdates)
}
