package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/audit"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/queue"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReapInterval = 15 * time.Second
	defaultReapLimit    = 100
	leaseExpiredError   = "lease expired"
)

// LeaseReaper periodically recovers jobs whose worker died mid-lease.
type LeaseReaper struct {
	jobs     queue.JobQueue
	ledger   repository.NotificationLedger
	audit    audit.Emitter
	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	limit    int
}

func NewLeaseReaper(
	jobs queue.JobQueue,
	ledger repository.NotificationLedger,
	emitter audit.Emitter,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*LeaseReaper, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("notification ledger is required")
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	if interval <= 0 {
		interval = defaultReapInterval
	}
	if limit <= 0 {
		limit = defaultReapLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LeaseReaper{
		jobs:     jobs,
		ledger:   ledger,
		audit:    emitter,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}, nil
}

func (r *LeaseReaper) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *LeaseReaper) Start(ctx context.Context) error {
	if err := r.Reap(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("lease reaper initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Reap(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("lease reaper scan failed", zap.Error(err))
			}
		}
	}
}

// Reap requeues expired leases and records the ones that ran out of attempts.
func (r *LeaseReaper) Reap(ctx context.Context) error {
	result, err := r.jobs.RequeueExpired(ctx, r.limit)
	if err != nil {
		return fmt.Errorf("failed to requeue expired leases: %w", err)
	}

	if result.Requeued > 0 {
		r.logger.Warn("requeued stalled reminder jobs", zap.Int("count", result.Requeued))
	}
	r.metrics.AddLeasesRecovered("requeued", result.Requeued)
	r.metrics.AddLeasesRecovered("failed", len(result.FailedJobIDs))

	for _, jobID := range result.FailedJobIDs {
		r.recordExhausted(ctx, jobID)
	}

	counts, err := r.jobs.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue counts: %w", err)
	}
	r.metrics.SetQueueJobs(queue.StateDelayed.String(), counts.Delayed)
	r.metrics.SetQueueJobs(queue.StateActive.String(), counts.Active)
	r.metrics.SetQueueJobs(queue.StateCompleted.String(), counts.Completed)
	r.metrics.SetQueueJobs(queue.StateFailed.String(), counts.Failed)

	return nil
}

func (r *LeaseReaper) recordExhausted(ctx context.Context, jobID string) {
	logger := r.logger.With(zap.String("jobId", jobID))

	eventID, offset, err := domain.ParseReminderJobID(jobID)
	if err != nil {
		logger.Error("stalled job failed terminally with unparseable id", zap.Error(err))
		return
	}
	logger.Error("stalled reminder job failed terminally",
		zap.String("eventId", eventID),
		zap.Int("offsetMinutes", offset),
	)

	detail := leaseExpiredError
	if err := r.ledger.Record(ctx, &domain.NotificationLogEntry{
		EventID:       eventID,
		Kind:          domain.KindReminder,
		OffsetMinutes: domain.Offset(offset),
		Status:        domain.LogStatusFailed,
		Error:         &detail,
		Terminal:      true,
	}); err != nil {
		logger.Error("failed to record stalled job failure", zap.Error(err))
	}

	r.audit.Emit(ctx, domain.AuditEntry{
		Type:    domain.AuditReminderFailed,
		EventID: eventID,
		Payload: map[string]any{
			"offsetMinutes": offset,
			"terminal":      true,
			"error":         leaseExpiredError,
		},
		Message: fmt.Sprintf("Reminder job %s failed: %s", jobID, leaseExpiredError),
	})
}
