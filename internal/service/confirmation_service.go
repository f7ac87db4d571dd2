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
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"github.com/kursadbilgin/reminder-engine/internal/templates"
	"go.uber.org/zap"
)

const confirmationKeyPrefix = "confirmation:"

// ConfirmationService sends the one-off "event confirmed" e-mail. Failures
// are reported in the returned status and never retried.
type ConfirmationService struct {
	ledger       repository.NotificationLedger
	gateway      provider.DeliveryGateway
	audit        audit.Emitter
	emailEnabled bool
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

func NewConfirmationService(
	ledger repository.NotificationLedger,
	gateway provider.DeliveryGateway,
	emitter audit.Emitter,
	emailEnabled bool,
	logger *zap.Logger,
) (*ConfirmationService, error) {
	if ledger == nil {
		return nil, fmt.Errorf("notification ledger is required")
	}
	if gateway == nil && emailEnabled {
		return nil, fmt.Errorf("delivery gateway is required when email is enabled")
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConfirmationService{
		ledger:       ledger,
		gateway:      gateway,
		audit:        emitter,
		emailEnabled: emailEnabled,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (s *ConfirmationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *ConfirmationService) Send(ctx context.Context, event *domain.Event, recipient string) domain.ConfirmationStatus {
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("eventId", event.ID))
	kind := domain.KindConfirmation.String()

	if !s.emailEnabled {
		s.skip(ctx, event.ID, SkipReasonEmailDisabled)
		return domain.ConfirmationSkipped
	}
	if recipient == "" {
		reason := SkipReasonNoEmail
		if err := s.ledger.Record(ctx, &domain.NotificationLogEntry{
			EventID: event.ID,
			Kind:    domain.KindConfirmation,
			Status:  domain.LogStatusSkipped,
			Reason:  &reason,
		}); err != nil {
			logger.Error("failed to record skipped confirmation", zap.Error(err))
		}
		s.skip(ctx, event.ID, SkipReasonNoEmail)
		return domain.ConfirmationSkipped
	}

	sent, err := s.ledger.HasSent(ctx, event.ID, domain.KindConfirmation, nil)
	if err != nil {
		logger.Error("failed to check confirmation ledger", zap.Error(err))
		return domain.ConfirmationFailed
	}
	if sent {
		return domain.ConfirmationSent
	}

	content, err := templates.Confirmation(event)
	if err != nil {
		logger.Error("failed to render confirmation", zap.Error(err))
		return domain.ConfirmationFailed
	}

	sendStart := s.now()
	result, sendErr := s.gateway.Send(ctx, provider.Message{
		To:             recipient,
		Subject:        content.Subject,
		Text:           content.Text,
		HTML:           content.HTML,
		IdempotencyKey: confirmationKeyPrefix + event.ID,
	})
	s.metrics.ObserveDeliveryDuration(kind, s.now().Sub(sendStart))

	if sendErr != nil {
		detail := sendErr.Error()
		classification := provider.Classify(sendErr)
		logger.Error("confirmation email failed", zap.String("to", recipient), zap.Error(sendErr))
		s.metrics.IncNotificationFailed(kind, classification)

		if err := s.ledger.Record(ctx, &domain.NotificationLogEntry{
			EventID:   event.ID,
			Kind:      domain.KindConfirmation,
			Status:    domain.LogStatusFailed,
			Recipient: recipient,
			Error:     &detail,
			Reason:    &classification,
			Attempt:   1,
			Terminal:  true,
		}); err != nil {
			logger.Error("failed to record confirmation failure", zap.Error(err))
		}
		s.audit.Emit(ctx, domain.AuditEntry{
			Type:    domain.AuditConfirmationFailed,
			EventID: event.ID,
			Payload: map[string]any{"to": recipient, "error": detail},
			Message: fmt.Sprintf("Confirmation email failed for event %s", event.ID),
		})
		return domain.ConfirmationFailed
	}

	messageID := result.ProviderMessageID
	err = s.ledger.Record(ctx, &domain.NotificationLogEntry{
		EventID:           event.ID,
		Kind:              domain.KindConfirmation,
		Status:            domain.LogStatusSent,
		Recipient:         recipient,
		ProviderMessageID: &messageID,
		Attempt:           1,
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadySent) {
		logger.Error("failed to record sent confirmation", zap.Error(err))
	}

	s.metrics.IncNotificationSent(kind)
	s.audit.Emit(ctx, domain.AuditEntry{
		Type:    domain.AuditConfirmationSent,
		EventID: event.ID,
		Payload: map[string]any{"to": recipient, "providerMessageId": messageID},
		Message: fmt.Sprintf("Confirmation email sent for event %s", event.ID),
	})

	return domain.ConfirmationSent
}

func (s *ConfirmationService) skip(ctx context.Context, eventID string, reason string) {
	s.metrics.IncNotificationSkipped(domain.KindConfirmation.String(), reason)
	s.audit.Emit(ctx, domain.AuditEntry{
		Type:    domain.AuditConfirmationSkipped,
		EventID: eventID,
		Payload: map[string]any{"reason": reason},
		Message: fmt.Sprintf("Confirmation email skipped for event %s: %s", eventID, reason),
	})
}
