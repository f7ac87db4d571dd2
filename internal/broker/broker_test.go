package broker

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestNewRabbitMQRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRabbitMQ("  "); err == nil {
		t.Fatal("NewRabbitMQ() expected error for empty url")
	}
}

func TestRoutingKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   domain.AuditType
		want string
	}{
		{in: domain.AuditReminderSent, want: "reminder.sent"},
		{in: domain.AuditConfirmationFailed, want: "email.confirmation.failed"},
		{in: domain.AuditEventCreated, want: "event.created"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.in), func(t *testing.T) {
			t.Parallel()

			if got := RoutingKey(tt.in); got != tt.want {
				t.Fatalf("RoutingKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAuditPublishing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := domain.AuditEntry{
		ID:      "audit-1",
		Type:    domain.AuditReminderSent,
		EventID: "evt-1",
		Payload: map[string]any{"offsetMinutes": 10},
	}

	publishing, err := auditPublishing(entry, now)
	if err != nil {
		t.Fatalf("auditPublishing() error = %v", err)
	}
	if publishing.DeliveryMode != amqp.Persistent {
		t.Fatalf("DeliveryMode = %d, want persistent", publishing.DeliveryMode)
	}
	if publishing.MessageId != "audit-1" || publishing.CorrelationId != "evt-1" {
		t.Fatalf("ids = %q/%q, want audit-1/evt-1", publishing.MessageId, publishing.CorrelationId)
	}
	if !publishing.Timestamp.Equal(now) {
		t.Fatalf("Timestamp = %v, want %v", publishing.Timestamp, now)
	}

	var decoded domain.AuditEntry
	if err := json.Unmarshal(publishing.Body, &decoded); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if decoded.Type != domain.AuditReminderSent || decoded.EventID != "evt-1" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestAuditPublishingRequiresType(t *testing.T) {
	t.Parallel()

	_, err := auditPublishing(domain.AuditEntry{EventID: "evt-1"}, time.Now())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("auditPublishing() error = %v, want ErrValidation", err)
	}
}

func TestNextBackoffCaps(t *testing.T) {
	t.Parallel()

	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Fatalf("nextBackoff(1s) = %v, want 2s", got)
	}
	if got := nextBackoff(20 * time.Second); got != maxBackoff {
		t.Fatalf("nextBackoff(20s) = %v, want %v", got, maxBackoff)
	}
}
