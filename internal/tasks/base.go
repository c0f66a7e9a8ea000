package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"leasebill_app_echo/internal/models"
)

// BuildScheduledTask is a helper to build ScheduledTask records generically
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	var mapArgs map[string]interface{}
	if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
	}

	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due,
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        maxAttempt,
	}, nil
}

// EnsureRecurringTask seeds a recurring task if no active row for it exists.
// Called at worker startup so the daily billing cycle survives a fresh
// database without manual scheduling.
func EnsureRecurringTask(db *gorm.DB, taskName, rruleStr string, firstDue time.Time, maxAttempt int) error {
	var count int64
	err := db.Model(&models.ScheduledTask{}).
		Where("task_name = ? AND status = ? AND task_type = ?", taskName, models.ScheduledTaskStatusActive, models.ScheduledTaskTypeRecurring).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	task, err := BuildScheduledTask(taskName, map[string]interface{}{}, firstDue, &rruleStr, models.ScheduledTaskTypeRecurring, maxAttempt)
	if err != nil {
		return err
	}
	return db.Create(task).Error
}
