package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AuditPublisher pushes audit entries onto the audit exchange.
type AuditPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewAuditPublisher(client *RabbitMQ) *AuditPublisher {
	return &AuditPublisher{client: client, now: time.Now}
}

func (p *AuditPublisher) Publish(ctx context.Context, entry domain.AuditEntry) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	publishing, err := auditPublishing(entry, p.now())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, AuditExchange, RoutingKey(entry.Type), false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish audit entry %q: %w", entry.Type, err)
	}

	return nil
}

func (p *AuditPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// RoutingKey maps an audit type to a dotted topic key, e.g. reminder_sent -> reminder.sent.
func RoutingKey(t domain.AuditType) string {
	return strings.ReplaceAll(strings.ToLower(string(t)), "_", ".")
}

func auditPublishing(entry domain.AuditEntry, now time.Time) (amqp.Publishing, error) {
	if strings.TrimSpace(string(entry.Type)) == "" {
		return amqp.Publishing{}, fmt.Errorf("%w: audit type is required", domain.ErrValidation)
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now.UTC(),
		MessageId:     entry.ID,
		CorrelationId: entry.EventID,
		Type:          string(entry.Type),
		Body:          body,
	}, nil
}
