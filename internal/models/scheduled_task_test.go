package models

import (
	"testing"
	"time"
)

func TestScheduledTaskNextDue(t *testing.T) {
	past := time.Now().AddDate(0, 0, -3).Truncate(time.Minute)
	daily := "FREQ=DAILY"

	tests := []struct {
		name string
		task ScheduledTask
		want func(next time.Time) bool
	}{
		{
			name: "onetime keeps its due",
			task: ScheduledTask{TaskType: ScheduledTaskTypeOneTime, Due: past},
			want: func(next time.Time) bool { return next.Equal(past) },
		},
		{
			name: "daily recurrence moves to the future",
			task: ScheduledTask{TaskType: ScheduledTaskTypeRecurring, Due: past, RecurringInterval: &daily},
			want: func(next time.Time) bool { return next.After(time.Now()) },
		},
		{
			name: "invalid rule falls back to due",
			task: func() ScheduledTask {
				bad := "not-a-rule"
				return ScheduledTask{TaskType: ScheduledTaskTypeRecurring, Due: past, RecurringInterval: &bad}
			}(),
			want: func(next time.Time) bool { return next.Equal(past) },
		},
		{
			name: "missing rule falls back to due",
			task: ScheduledTask{TaskType: ScheduledTaskTypeRecurring, Due: past},
			want: func(next time.Time) bool { return next.Equal(past) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := tt.task.NextDue()
			if !tt.want(next) {
				t.Errorf("NextDue() = %v for due %v", next, tt.task.Due)
			}
		})
	}
}

func TestContractContainerIsOverdue(t *testing.T) {
	ret := time.Now()

	tests := []struct {
		name      string
		container ContractContainer
		want      bool
	}{
		{"picked up and out", ContractContainer{Status: ContainerStatusPickedUp}, true},
		{"returned", ContractContainer{Status: ContainerStatusReturned, ReturnDate: &ret}, false},
		{"picked up but return date set", ContractContainer{Status: ContainerStatusPickedUp, ReturnDate: &ret}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.container.IsOverdue(); got != tt.want {
				t.Errorf("IsOverdue() = %v; want %v", got, tt.want)
			}
		})
	}
}
