package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/queue"
	"go.uber.org/zap"
)

const (
	SkipReasonRemindersDisabled      = "reminders_disabled"
	SkipReasonEventRemindersDisabled = "event_reminders_disabled"
	SkipReasonNoOffsets              = "no_offsets"
	SkipReasonNoEmail                = "no_email"
	SkipReasonEmailDisabled          = "email_disabled"
)

// ScheduleResult describes one scheduling call. Offsets land in exactly one
// of Added, Duplicates or PastDue, except when the call failed midway.
type ScheduleResult struct {
	Outcome    domain.ScheduleOutcome
	Reason     string
	Added      []int
	Duplicates []int
	PastDue    []int
}

// ReminderScheduler turns an event's reminder offsets into delayed queue jobs.
type ReminderScheduler struct {
	jobs    queue.JobQueue
	enabled bool
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewReminderScheduler(jobs queue.JobQueue, enabled bool, logger *zap.Logger) (*ReminderScheduler, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReminderScheduler{
		jobs:    jobs,
		enabled: enabled,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *ReminderScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// ScheduleReminders submits one job per future offset. Submitting the same
// event again is safe: existing job ids are left untouched. The first queue
// error aborts the call with ScheduleFailed; offsets already submitted stay queued.
func (s *ReminderScheduler) ScheduleReminders(ctx context.Context, event *domain.Event) (ScheduleResult, error) {
	if event == nil {
		return ScheduleResult{Outcome: domain.ScheduleFailed}, fmt.Errorf("%w: event is required", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("eventId", event.ID))

	if skip := s.skipReason(event); skip != "" {
		logger.Info("reminders skipped", zap.String("reason", skip))
		s.metrics.IncScheduleOutcome(domain.ScheduleSkipped.String())
		return ScheduleResult{Outcome: domain.ScheduleSkipped, Reason: skip}, nil
	}

	result := ScheduleResult{Outcome: domain.ScheduleScheduled}
	now := s.now()

	for _, offset := range event.ReminderConfig.EffectiveOffsets() {
		runAt := domain.ReminderRunAt(event.Start, offset)
		if !runAt.After(now) {
			result.PastDue = append(result.PastDue, offset)
			s.metrics.IncJobSubmitted("past_due")
			continue
		}

		payload := domain.ReminderPayload{EventID: event.ID, OffsetMinutes: offset}
		added, err := s.jobs.Add(ctx, payload.JobID(), payload, runAt.Sub(now))
		if err != nil {
			result.Outcome = domain.ScheduleFailed
			logger.Error("failed to submit reminder job",
				zap.Int("offsetMinutes", offset),
				zap.Error(err),
			)
			s.metrics.IncScheduleOutcome(result.Outcome.String())
			return result, fmt.Errorf("failed to submit reminder %s: %w", payload.JobID(), err)
		}

		if added {
			result.Added = append(result.Added, offset)
			s.metrics.IncJobSubmitted("added")
		} else {
			result.Duplicates = append(result.Duplicates, offset)
			s.metrics.IncJobSubmitted("duplicate")
		}
	}

	logger.Info("reminders scheduled",
		zap.Ints("added", result.Added),
		zap.Ints("duplicates", result.Duplicates),
		zap.Ints("pastDue", result.PastDue),
	)
	s.metrics.IncScheduleOutcome(result.Outcome.String())

	return result, nil
}

func (s *ReminderScheduler) skipReason(event *domain.Event) string {
	switch {
	case !s.enabled:
		return SkipReasonRemindersDisabled
	case !event.ReminderConfig.Enabled:
		return SkipReasonEventRemindersDisabled
	case len(event.ReminderConfig.EffectiveOffsets()) == 0:
		return SkipReasonNoOffsets
	}
	return ""
}
