package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

type fakeReminderScheduler struct {
	scheduleFn func(ctx context.Context, event *domain.Event) (ScheduleResult, error)
}

func (f *fakeReminderScheduler) ScheduleReminders(ctx context.Context, event *domain.Event) (ScheduleResult, error) {
	if f.scheduleFn != nil {
		return f.scheduleFn(ctx, event)
	}
	return ScheduleResult{Outcome: domain.ScheduleScheduled, Added: []int{60, 10}}, nil
}

func TestScheduleDispatcherHandleRecordsOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		result    ScheduleResult
		err       error
		wantState domain.ScheduleOutcome
		wantAudit domain.AuditType
	}{
		{
			name:      "scheduled",
			result:    ScheduleResult{Outcome: domain.ScheduleScheduled, Added: []int{60}},
			wantState: domain.ScheduleScheduled,
			wantAudit: domain.AuditRemindersScheduled,
		},
		{
			name:      "skipped",
			result:    ScheduleResult{Outcome: domain.ScheduleSkipped, Reason: SkipReasonNoOffsets},
			wantState: domain.ScheduleSkipped,
			wantAudit: domain.AuditRemindersSkipped,
		},
		{
			name:      "failed",
			err:       errors.New("redis down"),
			wantState: domain.ScheduleFailed,
			wantAudit: domain.AuditRemindersFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			event := newTestEvent("evt-1", time.Now().Add(time.Hour), 10)
			events := newFakeEventStore(event)
			recorder := &fakeAudit{}
			scheduler := &fakeReminderScheduler{
				scheduleFn: func(ctx context.Context, e *domain.Event) (ScheduleResult, error) {
					return tt.result, tt.err
				},
			}

			d, err := NewScheduleDispatcher(scheduler, events, recorder, 1, nil)
			if err != nil {
				t.Fatalf("NewScheduleDispatcher() error = %v", err)
			}

			got := d.Handle(context.Background(), event)
			if got.Outcome != tt.wantState {
				t.Fatalf("Handle().Outcome = %s, want %s", got.Outcome, tt.wantState)
			}
			if status := events.remindersStatus(event.ID); status != tt.wantState {
				t.Fatalf("stored reminders status = %s, want %s", status, tt.wantState)
			}
			if entry := recorder.last(); entry.Type != tt.wantAudit {
				t.Fatalf("audit type = %s, want %s", entry.Type, tt.wantAudit)
			}
		})
	}
}

func TestScheduleDispatcherSubmitFullBuffer(t *testing.T) {
	t.Parallel()

	first := newTestEvent("evt-1", time.Now().Add(time.Hour), 10)
	second := newTestEvent("evt-2", time.Now().Add(time.Hour), 10)
	events := newFakeEventStore(first, second)
	recorder := &fakeAudit{}

	d, err := NewScheduleDispatcher(&fakeReminderScheduler{}, events, recorder, 1, nil)
	if err != nil {
		t.Fatalf("NewScheduleDispatcher() error = %v", err)
	}

	if err := d.Submit(context.Background(), first); err != nil {
		t.Fatalf("Submit() first error = %v", err)
	}
	err = d.Submit(context.Background(), second)
	if !errors.Is(err, ErrDispatchQueueFull) {
		t.Fatalf("Submit() second error = %v, want ErrDispatchQueueFull", err)
	}
	if status := events.remindersStatus(second.ID); status != domain.ScheduleFailed {
		t.Fatalf("reminders status = %s, want failed", status)
	}
	entry := recorder.last()
	if entry.Type != domain.AuditRemindersFailed || entry.Payload["reason"] != "dispatch_queue_full" {
		t.Fatalf("audit = %+v, want reminders_failed with dispatch_queue_full", entry)
	}
}

func TestScheduleDispatcherStartDrainsOnShutdown(t *testing.T) {
	t.Parallel()

	events := newFakeEventStore()
	var submitted []*domain.Event
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		e := newTestEvent(id, time.Now().Add(time.Hour), 10)
		events.events[id] = e
		submitted = append(submitted, e)
	}

	d, err := NewScheduleDispatcher(&fakeReminderScheduler{}, events, nil, 8, nil)
	if err != nil {
		t.Fatalf("NewScheduleDispatcher() error = %v", err)
	}
	for _, e := range submitted {
		if err := d.Submit(context.Background(), e); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, e := range submitted {
		if status := events.remindersStatus(e.ID); status != domain.ScheduleScheduled {
			t.Fatalf("event %s reminders status = %s, want scheduled", e.ID, status)
		}
	}
}
