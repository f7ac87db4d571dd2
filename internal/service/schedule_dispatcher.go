package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/audit"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultDispatchBuffer = 256
	drainTimeout          = 10 * time.Second
)

// ErrDispatchQueueFull is returned by Submit when the handoff buffer is full.
var ErrDispatchQueueFull = errors.New("schedule dispatch queue is full")

type reminderScheduler interface {
	ScheduleReminders(ctx context.Context, event *domain.Event) (ScheduleResult, error)
}

// ScheduleDispatcher moves reminder scheduling off the request path. Submit
// hands the event to a buffered channel; Start drains it, schedules, and
// records the outcome on the event and in the audit trail.
type ScheduleDispatcher struct {
	scheduler reminderScheduler
	events    repository.EventStore
	audit     audit.Emitter
	logger    *zap.Logger
	requests  chan *domain.Event
}

func NewScheduleDispatcher(
	scheduler reminderScheduler,
	events repository.EventStore,
	emitter audit.Emitter,
	buffer int,
	logger *zap.Logger,
) (*ScheduleDispatcher, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("reminder scheduler is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	if buffer < 1 {
		buffer = defaultDispatchBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ScheduleDispatcher{
		scheduler: scheduler,
		events:    events,
		audit:     emitter,
		logger:    logger,
		requests:  make(chan *domain.Event, buffer),
	}, nil
}

// Submit enqueues the event without blocking. When the buffer is full the
// event is marked failed right away and ErrDispatchQueueFull is returned.
func (d *ScheduleDispatcher) Submit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return fmt.Errorf("%w: event is required", domain.ErrValidation)
	}

	snapshot := *event
	select {
	case d.requests <- &snapshot:
		return nil
	default:
	}

	d.logger.Error("schedule dispatch queue full", zap.String("eventId", event.ID))
	d.record(ctx, &snapshot, ScheduleResult{Outcome: domain.ScheduleFailed, Reason: "dispatch_queue_full"}, ErrDispatchQueueFull)
	return ErrDispatchQueueFull
}

// Start processes submitted events until ctx is canceled, then drains what
// is already buffered so accepted work is not lost on shutdown.
func (d *ScheduleDispatcher) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case event := <-d.requests:
			d.Handle(ctx, event)
		}
	}
}

// Handle schedules reminders for event synchronously and records the outcome.
func (d *ScheduleDispatcher) Handle(ctx context.Context, event *domain.Event) ScheduleResult {
	result, err := d.scheduler.ScheduleReminders(ctx, event)
	if err != nil && result.Outcome == "" {
		result.Outcome = domain.ScheduleFailed
	}
	d.record(ctx, event, result, err)
	return result
}

func (d *ScheduleDispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case event := <-d.requests:
			d.Handle(ctx, event)
		default:
			return
		}
	}
}

func (d *ScheduleDispatcher) record(ctx context.Context, event *domain.Event, result ScheduleResult, scheduleErr error) {
	logger := observability.WithContextLogger(d.logger, ctx).With(zap.String("eventId", event.ID))

	if err := d.events.UpdateRemindersStatus(ctx, event.ID, result.Outcome); err != nil {
		logger.Error("failed to update reminders status",
			zap.String("outcome", result.Outcome.String()),
			zap.Error(err),
		)
	}

	entry := domain.AuditEntry{
		EventID: event.ID,
		Payload: map[string]any{},
	}
	switch result.Outcome {
	case domain.ScheduleScheduled:
		entry.Type = domain.AuditRemindersScheduled
		entry.Payload["added"] = result.Added
		entry.Payload["duplicates"] = result.Duplicates
		entry.Payload["pastDue"] = result.PastDue
		entry.Message = fmt.Sprintf("Reminders scheduled for event %s", event.ID)
	case domain.ScheduleSkipped:
		entry.Type = domain.AuditRemindersSkipped
		entry.Payload["reason"] = result.Reason
		entry.Message = fmt.Sprintf("Reminders skipped for event %s", event.ID)
	default:
		entry.Type = domain.AuditRemindersFailed
		if result.Reason != "" {
			entry.Payload["reason"] = result.Reason
		}
		if scheduleErr != nil {
			entry.Payload["error"] = scheduleErr.Error()
		}
		entry.Message = fmt.Sprintf("Reminder scheduling failed for event %s", event.ID)
	}

	d.audit.Emit(ctx, entry)
}
