package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/reminder-engine/internal/audit"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultDurationMinutes = 30
	MaxDurationMinutes     = 24 * 60
	startGracePeriod       = 60 * time.Second
)

type CreateEventInput struct {
	Title                  string
	AttendeeName           string
	AttendeeEmail          *string
	Description            string
	Start                  time.Time
	DurationMinutes        int
	Timezone               string
	CalendarID             string
	HTMLLink               string
	RemindersEnabled       *bool
	ReminderOffsetsMinutes []int
	IdempotencyKey         *string
}

type confirmationSender interface {
	Send(ctx context.Context, event *domain.Event, recipient string) domain.ConfirmationStatus
}

type scheduleHandoff interface {
	Submit(ctx context.Context, event *domain.Event) error
	Handle(ctx context.Context, event *domain.Event) ScheduleResult
}

// EventService is event intake: it stores the event, sends the confirmation
// and hands reminder scheduling to the dispatcher.
type EventService struct {
	events          repository.EventStore
	users           repository.UserStore
	ledger          repository.NotificationLedger
	confirmations   confirmationSender
	dispatcher      scheduleHandoff
	audit           audit.Emitter
	defaultTimezone string
	logger          *zap.Logger
	now             func() time.Time
}

func NewEventService(
	events repository.EventStore,
	users repository.UserStore,
	ledger repository.NotificationLedger,
	confirmations confirmationSender,
	dispatcher scheduleHandoff,
	emitter audit.Emitter,
	defaultTimezone string,
	logger *zap.Logger,
) (*EventService, error) {
	switch {
	case events == nil:
		return nil, fmt.Errorf("event store is required")
	case users == nil:
		return nil, fmt.Errorf("user store is required")
	case ledger == nil:
		return nil, fmt.Errorf("notification ledger is required")
	case confirmations == nil:
		return nil, fmt.Errorf("confirmation sender is required")
	case dispatcher == nil:
		return nil, fmt.Errorf("schedule dispatcher is required")
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	if strings.TrimSpace(defaultTimezone) == "" {
		defaultTimezone = "UTC"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventService{
		events:          events,
		users:           users,
		ledger:          ledger,
		confirmations:   confirmations,
		dispatcher:      dispatcher,
		audit:           emitter,
		defaultTimezone: defaultTimezone,
		logger:          logger,
		now:             time.Now,
	}, nil
}

// Create stores a new event and starts its notification pipeline. The bool
// result is false when an event with the same idempotency key already existed.
func (s *EventService) Create(ctx context.Context, input CreateEventInput) (*domain.Event, bool, error) {
	logger := observability.WithContextLogger(s.logger, ctx)

	idempotencyKey := normalizeOptionalString(input.IdempotencyKey)
	if idempotencyKey != nil {
		existing, err := s.events.GetByIdempotencyKey(ctx, *idempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
	}

	event, email, err := s.prepareEvent(input)
	if err != nil {
		return nil, false, err
	}
	event.IdempotencyKey = idempotencyKey

	if email != "" {
		user := &domain.User{
			ID:       uuid.NewString(),
			Name:     event.AttendeeName,
			Email:    &email,
			Timezone: event.Timezone,
		}
		if err := s.users.Upsert(ctx, user); err != nil {
			return nil, false, fmt.Errorf("failed to upsert user: %w", err)
		}
		event.UserID = &user.ID
	}

	if err := s.events.Create(ctx, event); err != nil {
		if idempotencyKey != nil && errors.Is(err, domain.ErrConflict) {
			existing, getErr := s.events.GetByIdempotencyKey(ctx, *idempotencyKey)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to load event after idempotency conflict: %w", getErr)
			}
			logger.Info("idempotency conflict resolved",
				zap.String("existingId", existing.ID),
				zap.String("idempotencyKey", *idempotencyKey),
			)
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create event: %w", err)
	}

	logger = logger.With(zap.String("eventId", event.ID))
	logger.Info("event created")
	s.audit.Emit(ctx, domain.AuditEntry{
		Type:    domain.AuditEventCreated,
		EventID: event.ID,
		Payload: map[string]any{
			"title":          event.Title,
			"start":          event.Start.UTC().Format(time.RFC3339),
			"offsetsMinutes": event.ReminderConfig.OffsetsMinutes,
		},
		Message: fmt.Sprintf("Event created for %s", event.AttendeeName),
	})

	confirmation := s.confirmations.Send(ctx, event, email)
	event.NotificationStatus.ConfirmationEmail = confirmation
	if err := s.events.UpdateConfirmationStatus(ctx, event.ID, confirmation); err != nil {
		logger.Error("failed to update confirmation status", zap.Error(err))
	}

	if email == "" && event.ReminderConfig.Enabled {
		event.NotificationStatus.Reminders = domain.ScheduleSkipped
		if err := s.events.UpdateRemindersStatus(ctx, event.ID, domain.ScheduleSkipped); err != nil {
			logger.Error("failed to update reminders status", zap.Error(err))
		}
		s.audit.Emit(ctx, domain.AuditEntry{
			Type:    domain.AuditRemindersSkipped,
			EventID: event.ID,
			Payload: map[string]any{"reason": SkipReasonNoEmail},
			Message: "Reminders skipped: no email provided",
		})
		return event, true, nil
	}

	if err := s.dispatcher.Submit(ctx, event); err != nil {
		event.NotificationStatus.Reminders = domain.ScheduleFailed
		logger.Error("reminder handoff failed", zap.Error(err))
	}

	return event, true, nil
}

func (s *EventService) Get(ctx context.Context, id string) (*domain.Event, error) {
	return s.events.GetByID(ctx, id)
}

func (s *EventService) List(ctx context.Context, params repository.EventListParams) ([]domain.Event, int64, error) {
	return s.events.List(ctx, params)
}

// Notifications returns the ledger entries of an existing event.
func (s *EventService) Notifications(ctx context.Context, eventID string) ([]domain.NotificationLogEntry, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, err
	}
	return s.ledger.ListByEvent(ctx, eventID)
}

// Reschedule runs reminder scheduling again. Offsets already queued are
// reported as duplicates, so repeating the call is harmless.
func (s *EventService) Reschedule(ctx context.Context, eventID string) (ScheduleResult, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return ScheduleResult{}, err
	}
	return s.dispatcher.Handle(ctx, event), nil
}

func (s *EventService) prepareEvent(input CreateEventInput) (*domain.Event, string, error) {
	if input.Start.IsZero() {
		return nil, "", fmt.Errorf("%w: start is required", domain.ErrValidation)
	}
	if input.Start.Before(s.now().Add(-startGracePeriod)) {
		return nil, "", fmt.Errorf("%w: start must be in the future", domain.ErrValidation)
	}

	duration := input.DurationMinutes
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	if duration < 1 || duration > MaxDurationMinutes {
		return nil, "", fmt.Errorf("%w: durationMinutes must be between 1 and %d", domain.ErrValidation, MaxDurationMinutes)
	}

	email, err := normalizeEmail(input.AttendeeEmail)
	if err != nil {
		return nil, "", err
	}

	timezone := strings.TrimSpace(input.Timezone)
	if timezone == "" {
		timezone = s.defaultTimezone
	}

	remindersEnabled := true
	if input.RemindersEnabled != nil {
		remindersEnabled = *input.RemindersEnabled
	}
	offsets := input.ReminderOffsetsMinutes
	if offsets == nil {
		offsets = domain.DefaultReminderOffsets
	}
	offsets, err = domain.NormalizeOffsets(offsets)
	if err != nil {
		return nil, "", err
	}

	start := input.Start.UTC()
	event := &domain.Event{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(input.Title),
		AttendeeName: strings.TrimSpace(input.AttendeeName),
		Description:  strings.TrimSpace(input.Description),
		CalendarID:   strings.TrimSpace(input.CalendarID),
		HTMLLink:     strings.TrimSpace(input.HTMLLink),
		Start:        start,
		End:          start.Add(time.Duration(duration) * time.Minute),
		Timezone:     timezone,
		ReminderConfig: domain.ReminderConfig{
			Enabled:        remindersEnabled,
			OffsetsMinutes: offsets,
		},
		NotificationStatus: domain.NotificationStatus{
			ConfirmationEmail: domain.ConfirmationPending,
			Reminders:         domain.SchedulePending,
		},
	}
	if err := event.Validate(); err != nil {
		return nil, "", err
	}

	return event, email, nil
}

func normalizeEmail(value *string) (string, error) {
	if value == nil {
		return "", nil
	}
	trimmed := strings.ToLower(strings.TrimSpace(*value))
	if trimmed == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("%w: invalid attendee email %q", domain.ErrValidation, *value)
	}
	return trimmed, nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
