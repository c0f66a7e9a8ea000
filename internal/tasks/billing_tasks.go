package tasks

import (
	"context"
	"fmt"
	"time"

	"leasebill_app_echo/internal/models"
)

// BillingCycleRule is the default recurrence for the daily billing pass
const BillingCycleRule = "FREQ=DAILY"

// RunBillingCycleTaskDef runs one full billing pass: new-invoice generation
// over all eligible contracts followed by the retry sweep.
type RunBillingCycleTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *RunBillingCycleTaskDef) TaskID() string {
	return "run_billing_cycle"
}

// CreateTask builds a one-time billing cycle task, used for backfill/replay
// with an explicit as_of date.
func (t *RunBillingCycleTaskDef) CreateTask(asOf time.Time) (*models.ScheduledTask, error) {
	args := map[string]interface{}{"as_of": asOf.UTC().Format(time.RFC3339)}
	return BuildScheduledTask(t.TaskID(), args, time.Now(), nil, models.ScheduledTaskTypeOneTime, 1)
}

// HandleExecution runs the billing cycle. The optional as_of argument
// (RFC3339) supports backfill and deterministic replay; it defaults to the
// execution time.
func (t *RunBillingCycleTaskDef) HandleExecution(ctx context.Context, deps *Deps, task models.ScheduledTask) (map[string]interface{}, error) {
	asOf, err := asOfFromArgs(task.Arguments)
	if err != nil {
		return nil, err
	}

	result, err := deps.Engine.RunBillingCycle(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("billing cycle failed: %w", err)
	}

	return map[string]interface{}{
		"status":            "success",
		"as_of":             result.AsOf.UTC().Format(time.RFC3339),
		"contracts_scanned": result.ContractsScanned,
		"invoices_created":  result.InvoicesCreated,
		"charges_succeeded": result.ChargesSucceeded,
		"charges_failed":    result.ChargesFailed,
		"retries_attempted": result.RetriesAttempted,
		"skipped":           result.Skipped,
		"errors":            result.Errors,
	}, nil
}

// RunBillingCycleTask is the singleton instance of RunBillingCycleTaskDef
var RunBillingCycleTask = &RunBillingCycleTaskDef{}

// RetrySweepTaskDef runs only the retry sweep. A normal cycle already sweeps;
// this task exists for ops-triggered sweeps between cycles.
type RetrySweepTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *RetrySweepTaskDef) TaskID() string {
	return "retry_sweep"
}

// HandleExecution re-attempts every invoice whose retry is due
func (t *RetrySweepTaskDef) HandleExecution(ctx context.Context, deps *Deps, task models.ScheduledTask) (map[string]interface{}, error) {
	now, err := asOfFromArgs(task.Arguments)
	if err != nil {
		return nil, err
	}

	result := deps.Engine.RunRetrySweep(ctx, now)

	return map[string]interface{}{
		"status":            "success",
		"retries_attempted": result.RetriesAttempted,
		"charges_succeeded": result.ChargesSucceeded,
		"charges_failed":    result.ChargesFailed,
		"errors":            result.Errors,
	}, nil
}

// RetrySweepTask is the singleton instance of RetrySweepTaskDef
var RetrySweepTask = &RetrySweepTaskDef{}

// asOfFromArgs reads the optional as_of argument, defaulting to now
func asOfFromArgs(args map[string]interface{}) (time.Time, error) {
	raw, ok := args["as_of"].(string)
	if !ok || raw == "" {
		return time.Now().UTC(), nil
	}
	asOf, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as_of %q: %w", raw, err)
	}
	return asOf.UTC(), nil
}
