package tasks

import (
	"testing"
	"time"

	"leasebill_app_echo/internal/models"
)

func TestAsOfFromArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]interface{}
		want    time.Time
		wantNow bool
		wantErr bool
	}{
		{
			name:    "missing argument defaults to now",
			args:    map[string]interface{}{},
			wantNow: true,
		},
		{
			name:    "empty argument defaults to now",
			args:    map[string]interface{}{"as_of": ""},
			wantNow: true,
		},
		{
			name: "explicit rfc3339 value",
			args: map[string]interface{}{"as_of": "2026-03-15T02:00:00Z"},
			want: time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC),
		},
		{
			name: "offset value converts to utc",
			args: map[string]interface{}{"as_of": "2026-03-15T03:00:00+01:00"},
			want: time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC),
		},
		{
			name:    "garbage value errors",
			args:    map[string]interface{}{"as_of": "yesterday"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := asOfFromArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNow {
				if time.Since(got) > time.Minute {
					t.Errorf("got %v; want roughly now", got)
				}
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v; want %v", got, tt.want)
			}
		})
	}
}

func TestCreateBillingCycleBackfillTask(t *testing.T) {
	asOf := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	task, err := RunBillingCycleTask.CreateTask(asOf)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if task.TaskName != "run_billing_cycle" {
		t.Errorf("task name = %s; want run_billing_cycle", task.TaskName)
	}
	if task.TaskType != models.ScheduledTaskTypeOneTime {
		t.Errorf("task type = %s; want onetime", task.TaskType)
	}
	if got := task.Arguments["as_of"]; got != "2026-02-28T00:00:00Z" {
		t.Errorf("as_of argument = %v; want 2026-02-28T00:00:00Z", got)
	}
}

func TestDefineTasksRegistersAllHandlers(t *testing.T) {
	DefineTasks()

	for _, name := range []string{
		"log_info",
		"run_billing_cycle",
		"retry_sweep",
		"send_dunning_notification",
	} {
		if _, ok := GetHandler(name); !ok {
			t.Errorf("handler %s not registered", name)
		}
	}
}
