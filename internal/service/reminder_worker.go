package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/audit"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/provider"
	"github.com/kursadbilgin/reminder-engine/internal/queue"
	"github.com/kursadbilgin/reminder-engine/internal/ratelimit"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"github.com/kursadbilgin/reminder-engine/internal/templates"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	defaultPollInterval  = time.Second
	defaultJobTimeout    = time.Minute
	emailScope           = "email"
	reasonNoRecipient    = "no_recipient"
)

type ReminderWorkerDeps struct {
	Jobs    queue.JobQueue
	Events  repository.EventStore
	Users   repository.UserStore
	Ledger  repository.NotificationLedger
	Gateway provider.DeliveryGateway
	Limiter ratelimit.RateLimiter
	Audit   audit.Emitter
}

type ReminderWorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// JobTimeout bounds one job; keep it below the queue lease timeout.
	JobTimeout   time.Duration
	EmailEnabled bool
}

// ReminderWorker leases reminder jobs and delivers them at most once per
// (event, offset), using the ledger as the idempotency guard.
type ReminderWorker struct {
	jobs         queue.JobQueue
	events       repository.EventStore
	users        repository.UserStore
	ledger       repository.NotificationLedger
	gateway      provider.DeliveryGateway
	limiter      ratelimit.RateLimiter
	audit        audit.Emitter
	logger       *zap.Logger
	metrics      *observability.Metrics
	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	emailEnabled bool
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// deliveryError marks a gateway failure that processJob already wrote to the
// ledger and audit trail.
type deliveryError struct {
	err error
}

func (e *deliveryError) Error() string { return e.err.Error() }

func (e *deliveryError) Unwrap() error { return e.err }

func NewReminderWorker(deps ReminderWorkerDeps, cfg ReminderWorkerConfig, logger *zap.Logger) (*ReminderWorker, error) {
	switch {
	case deps.Jobs == nil:
		return nil, fmt.Errorf("job queue is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("event store is required")
	case deps.Users == nil:
		return nil, fmt.Errorf("user store is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("notification ledger is required")
	case deps.Gateway == nil && cfg.EmailEnabled:
		return nil, fmt.Errorf("delivery gateway is required when email is enabled")
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if cfg.Concurrency < minWorkerConcurrency {
		cfg.Concurrency = minWorkerConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReminderWorker{
		jobs:         deps.Jobs,
		events:       deps.Events,
		users:        deps.Users,
		ledger:       deps.Ledger,
		gateway:      deps.Gateway,
		limiter:      deps.Limiter,
		audit:        deps.Audit,
		logger:       logger,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		jobTimeout:   cfg.JobTimeout,
		emailEnabled: cfg.EmailEnabled,
		now:          time.Now,
		sleep:        sleepWithContext,
	}, nil
}

func (w *ReminderWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs the worker pool until ctx is canceled. A job in progress at
// cancellation runs to completion.
func (w *ReminderWorker) Start(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("reminder worker started", zap.Int("workerId", workerID))
			defer w.logger.Info("reminder worker stopped", zap.Int("workerId", workerID))

			for groupCtx.Err() == nil {
				processed, err := w.RunOnce(groupCtx)
				if err != nil {
					w.logger.Error("reminder worker iteration failed",
						zap.Int("workerId", workerID),
						zap.Error(err),
					)
				}
				if processed && err == nil {
					continue
				}
				if err := w.sleep(groupCtx, w.pollInterval); err != nil {
					return nil
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// RunOnce leases at most one ready job and runs it. It reports whether a job was leased.
func (w *ReminderWorker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.Lease(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to lease reminder job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// Detach from shutdown so a leased job is finished and acknowledged.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()
	jobCtx = observability.WithJobID(jobCtx, job.ID)

	return true, w.runJob(jobCtx, job)
}

func (w *ReminderWorker) runJob(ctx context.Context, job *queue.Job) error {
	logger := observability.WithContextLogger(w.logger, ctx).With(zap.Int("attempt", job.Attempt))

	w.metrics.IncWorkerInFlight()
	defer w.metrics.DecWorkerInFlight()

	processErr := w.processJob(ctx, job)
	if processErr == nil {
		if err := w.jobs.Complete(ctx, job); err != nil {
			if errors.Is(err, queue.ErrLeaseLost) {
				logger.Warn("reminder job lease lost before completion")
				return nil
			}
			return err
		}
		return nil
	}

	result, err := w.jobs.Fail(ctx, job, processErr)
	if err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			logger.Warn("reminder job lease lost before failure was recorded", zap.Error(processErr))
			return nil
		}
		return err
	}

	if result.Retrying {
		w.metrics.IncRetryScheduled()
		logger.Warn("reminder job failed, retry scheduled",
			zap.Time("nextRunAt", result.NextRunAt),
			zap.Error(processErr),
		)
		return nil
	}

	logger.Error("reminder job failed terminally", zap.Error(processErr))

	var delivery *deliveryError
	if !errors.As(processErr, &delivery) {
		detail := processErr.Error()
		if err := w.ledger.Record(ctx, &domain.NotificationLogEntry{
			EventID:       job.Payload.EventID,
			Kind:          domain.KindReminder,
			OffsetMinutes: domain.Offset(job.Payload.OffsetMinutes),
			Status:        domain.LogStatusFailed,
			Error:         &detail,
			Attempt:       job.Attempt,
			Terminal:      true,
		}); err != nil {
			logger.Error("failed to record reminder job failure", zap.Error(err))
		}

		w.audit.Emit(ctx, domain.AuditEntry{
			Type:    domain.AuditReminderFailed,
			EventID: job.Payload.EventID,
			Payload: map[string]any{
				"offsetMinutes": job.Payload.OffsetMinutes,
				"attempt":       job.Attempt,
				"terminal":      true,
				"error":         processErr.Error(),
			},
			Message: fmt.Sprintf("Reminder job failed: %s", processErr.Error()),
		})
	}
	return nil
}

// processJob delivers one reminder. A nil return completes the job; an
// error hands it back to the queue's retry policy.
func (w *ReminderWorker) processJob(ctx context.Context, job *queue.Job) error {
	logger := observability.WithContextLogger(w.logger, ctx)
	payload := job.Payload

	if err := payload.Validate(); err != nil {
		logger.Warn("invalid reminder job payload, dropping", zap.Error(err))
		return nil
	}
	logger = logger.With(
		zap.String("eventId", payload.EventID),
		zap.Int("offsetMinutes", payload.OffsetMinutes),
	)

	event, err := w.events.GetByID(ctx, payload.EventID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("event not found for reminder, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}

	recipient, err := w.resolveRecipient(ctx, event)
	if err != nil {
		return err
	}
	offset := domain.Offset(payload.OffsetMinutes)

	if recipient == "" {
		logger.Warn("reminder has no recipient, skipping")
		reason := reasonNoRecipient
		if err := w.ledger.Record(ctx, &domain.NotificationLogEntry{
			EventID:       event.ID,
			Kind:          domain.KindReminder,
			OffsetMinutes: offset,
			Status:        domain.LogStatusSkipped,
			Reason:        &reason,
			Attempt:       job.Attempt,
		}); err != nil {
			return fmt.Errorf("failed to record skipped reminder: %w", err)
		}
		w.emitSkipped(ctx, event.ID, payload.OffsetMinutes, SkipReasonNoEmail)
		return nil
	}

	if !w.emailEnabled {
		logger.Info("email disabled, reminder skipped")
		w.emitSkipped(ctx, event.ID, payload.OffsetMinutes, SkipReasonEmailDisabled)
		return nil
	}

	sent, err := w.ledger.HasSent(ctx, event.ID, domain.KindReminder, offset)
	if err != nil {
		return fmt.Errorf("failed to check ledger: %w", err)
	}
	if sent {
		logger.Info("reminder already sent, skipping redelivery")
		return nil
	}

	content, err := templates.Reminder(event, payload.OffsetMinutes)
	if err != nil {
		return err
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, emailScope); err != nil {
			return fmt.Errorf("send throttle wait failed: %w", err)
		}
	}

	sendStart := w.now()
	result, sendErr := w.gateway.Send(ctx, provider.Message{
		To:             recipient,
		Subject:        content.Subject,
		Text:           content.Text,
		HTML:           content.HTML,
		IdempotencyKey: payload.JobID(),
	})
	w.metrics.ObserveDeliveryDuration(domain.KindReminder.String(), w.now().Sub(sendStart))

	if sendErr != nil {
		return w.recordFailure(ctx, logger, job, event.ID, recipient, sendErr)
	}

	messageID := result.ProviderMessageID
	err = w.ledger.Record(ctx, &domain.NotificationLogEntry{
		EventID:           event.ID,
		Kind:              domain.KindReminder,
		OffsetMinutes:     offset,
		Status:            domain.LogStatusSent,
		Recipient:         recipient,
		ProviderMessageID: &messageID,
		Attempt:           job.Attempt,
	})
	if errors.Is(err, domain.ErrAlreadySent) {
		logger.Warn("reminder sent concurrently by another delivery", zap.String("providerMessageId", messageID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record sent reminder: %w", err)
	}

	w.metrics.IncNotificationSent(domain.KindReminder.String())
	w.audit.Emit(ctx, domain.AuditEntry{
		Type:    domain.AuditReminderSent,
		EventID: event.ID,
		Payload: map[string]any{
			"to":                recipient,
			"offsetMinutes":     payload.OffsetMinutes,
			"providerMessageId": messageID,
		},
		Message: fmt.Sprintf("Reminder sent for event %s (%d min)", event.ID, payload.OffsetMinutes),
	})
	logger.Info("reminder sent", zap.String("providerMessageId", messageID))

	return nil
}

func (w *ReminderWorker) resolveRecipient(ctx context.Context, event *domain.Event) (string, error) {
	if event.UserID == nil || *event.UserID == "" {
		return "", nil
	}

	user, err := w.users.GetByID(ctx, *event.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load recipient: %w", err)
	}
	return user.Address(), nil
}

func (w *ReminderWorker) recordFailure(
	ctx context.Context,
	logger *zap.Logger,
	job *queue.Job,
	eventID string,
	recipient string,
	sendErr error,
) error {
	terminal := job.FinalAttempt()
	classification := provider.Classify(sendErr)
	detail := sendErr.Error()

	w.metrics.IncNotificationFailed(domain.KindReminder.String(), classification)
	logger.Warn("reminder delivery failed",
		zap.Bool("terminal", terminal),
		zap.String("classification", classification),
		zap.Error(sendErr),
	)

	if err := w.ledger.Record(ctx, &domain.NotificationLogEntry{
		EventID:       eventID,
		Kind:          domain.KindReminder,
		OffsetMinutes: domain.Offset(job.Payload.OffsetMinutes),
		Status:        domain.LogStatusFailed,
		Recipient:     recipient,
		Error:         &detail,
		Reason:        &classification,
		Attempt:       job.Attempt,
		Terminal:      terminal,
	}); err != nil {
		logger.Error("failed to record reminder failure", zap.Error(err))
	}

	w.audit.Emit(ctx, domain.AuditEntry{
		Type:    domain.AuditReminderFailed,
		EventID: eventID,
		Payload: map[string]any{
			"to":             recipient,
			"offsetMinutes":  job.Payload.OffsetMinutes,
			"attempt":        job.Attempt,
			"terminal":       terminal,
			"classification": classification,
			"error":          detail,
		},
		Message: fmt.Sprintf("Reminder failed for event %s", eventID),
	})

	return &deliveryError{err: sendErr}
}

func (w *ReminderWorker) emitSkipped(ctx context.Context, eventID string, offsetMinutes int, reason string) {
	w.metrics.IncNotificationSkipped(domain.KindReminder.String(), reason)
	w.audit.Emit(ctx, domain.AuditEntry{
		Type:    domain.AuditReminderSkipped,
		EventID: eventID,
		Payload: map[string]any{
			"reason":        reason,
			"offsetMinutes": offsetMinutes,
		},
		Message: fmt.Sprintf("Reminder skipped for event %s: %s", eventID, reason),
	})
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
