package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

func newSchedulerForTest(t *testing.T, jobs *fakeJobQueue, enabled bool, now time.Time) *ReminderScheduler {
	t.Helper()

	s, err := NewReminderScheduler(jobs, enabled, nil)
	if err != nil {
		t.Fatalf("NewReminderScheduler() error = %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestNewReminderSchedulerRequiresQueue(t *testing.T) {
	t.Parallel()

	if _, err := NewReminderScheduler(nil, true, nil); err == nil {
		t.Fatal("NewReminderScheduler() expected error for nil queue")
	}
}

func TestReminderSchedulerSkipReasons(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		enabled bool
		mutate  func(e *domain.Event)
		want    string
	}{
		{
			name:    "globally disabled",
			enabled: false,
			want:    SkipReasonRemindersDisabled,
		},
		{
			name:    "event disabled",
			enabled: true,
			mutate:  func(e *domain.Event) { e.ReminderConfig.Enabled = false },
			want:    SkipReasonEventRemindersDisabled,
		},
		{
			name:    "no offsets",
			enabled: true,
			mutate:  func(e *domain.Event) { e.ReminderConfig.OffsetsMinutes = nil },
			want:    SkipReasonNoOffsets,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			jobs := &fakeJobQueue{
				addFn: func(ctx context.Context, jobID string, payload domain.ReminderPayload, delay time.Duration) (bool, error) {
					t.Fatalf("Add() should not be called when skipped")
					return false, nil
				},
			}
			s := newSchedulerForTest(t, jobs, tt.enabled, now)

			event := newTestEvent("evt-1", now.Add(2*time.Hour), 60, 10)
			if tt.mutate != nil {
				tt.mutate(event)
			}

			result, err := s.ScheduleReminders(context.Background(), event)
			if err != nil {
				t.Fatalf("ScheduleReminders() error = %v", err)
			}
			if result.Outcome != domain.ScheduleSkipped {
				t.Fatalf("Outcome = %s, want skipped", result.Outcome)
			}
			if result.Reason != tt.want {
				t.Fatalf("Reason = %q, want %q", result.Reason, tt.want)
			}
		})
	}
}

func TestReminderSchedulerSubmitsFutureOffsets(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(45 * time.Minute)

	var mu sync.Mutex
	delays := map[string]time.Duration{}
	jobs := &fakeJobQueue{
		addFn: func(ctx context.Context, jobID string, payload domain.ReminderPayload, delay time.Duration) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if jobID != payload.JobID() {
				t.Fatalf("jobID = %s, want %s", jobID, payload.JobID())
			}
			delays[jobID] = delay
			return true, nil
		},
	}
	s := newSchedulerForTest(t, jobs, true, now)

	result, err := s.ScheduleReminders(context.Background(), newTestEvent("evt-1", start, 10, 60, 10, 30))
	if err != nil {
		t.Fatalf("ScheduleReminders() error = %v", err)
	}

	if result.Outcome != domain.ScheduleScheduled {
		t.Fatalf("Outcome = %s, want scheduled", result.Outcome)
	}
	if !reflect.DeepEqual(result.Added, []int{30, 10}) {
		t.Fatalf("Added = %v, want [30 10]", result.Added)
	}
	if !reflect.DeepEqual(result.PastDue, []int{60}) {
		t.Fatalf("PastDue = %v, want [60]", result.PastDue)
	}
	if got := delays["reminder:evt-1:30"]; got != 15*time.Minute {
		t.Fatalf("delay for 30m offset = %v, want 15m", got)
	}
	if got := delays["reminder:evt-1:10"]; got != 35*time.Minute {
		t.Fatalf("delay for 10m offset = %v, want 35m", got)
	}
}

func TestReminderSchedulerAllPastDueStillScheduled(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newSchedulerForTest(t, &fakeJobQueue{}, true, now)

	// A run time equal to now counts as past due.
	result, err := s.ScheduleReminders(context.Background(), newTestEvent("evt-1", now.Add(10*time.Minute), 60, 10))
	if err != nil {
		t.Fatalf("ScheduleReminders() error = %v", err)
	}
	if result.Outcome != domain.ScheduleScheduled {
		t.Fatalf("Outcome = %s, want scheduled", result.Outcome)
	}
	if len(result.Added) != 0 || !reflect.DeepEqual(result.PastDue, []int{60, 10}) {
		t.Fatalf("result = %+v, want nothing added and [60 10] past due", result)
	}
}

func TestReminderSchedulerReportsDuplicates(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	jobs := &fakeJobQueue{
		addFn: func(ctx context.Context, jobID string, payload domain.ReminderPayload, delay time.Duration) (bool, error) {
			if seen[jobID] {
				return false, nil
			}
			seen[jobID] = true
			return true, nil
		},
	}
	s := newSchedulerForTest(t, jobs, true, now)
	event := newTestEvent("evt-1", now.Add(2*time.Hour), 60, 10)

	if _, err := s.ScheduleReminders(context.Background(), event); err != nil {
		t.Fatalf("first ScheduleReminders() error = %v", err)
	}
	result, err := s.ScheduleReminders(context.Background(), event)
	if err != nil {
		t.Fatalf("second ScheduleReminders() error = %v", err)
	}
	if len(result.Added) != 0 {
		t.Fatalf("Added = %v, want none", result.Added)
	}
	if !reflect.DeepEqual(result.Duplicates, []int{60, 10}) {
		t.Fatalf("Duplicates = %v, want [60 10]", result.Duplicates)
	}
}

func TestReminderSchedulerQueueErrorFails(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	jobs := &fakeJobQueue{
		addFn: func(ctx context.Context, jobID string, payload domain.ReminderPayload, delay time.Duration) (bool, error) {
			calls++
			if calls == 2 {
				return false, errors.New("redis down")
			}
			return true, nil
		},
	}
	s := newSchedulerForTest(t, jobs, true, now)

	result, err := s.ScheduleReminders(context.Background(), newTestEvent("evt-1", now.Add(2*time.Hour), 60, 30, 10))
	if err == nil {
		t.Fatal("ScheduleReminders() expected error")
	}
	if result.Outcome != domain.ScheduleFailed {
		t.Fatalf("Outcome = %s, want failed", result.Outcome)
	}
	if !reflect.DeepEqual(result.Added, []int{60}) {
		t.Fatalf("Added = %v, want [60]", result.Added)
	}
	if calls != 2 {
		t.Fatalf("Add() calls = %d, want 2", calls)
	}
}
