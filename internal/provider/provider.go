package provider

import (
	"context"
	"fmt"
	"strings"
)

// DeliveryGateway sends one notification through an external channel.
type DeliveryGateway interface {
	Send(ctx context.Context, msg Message) (*DeliveryResult, error)
}

// Message is a rendered notification. IdempotencyKey lets the provider drop
// a resend of a message it already accepted.
type Message struct {
	To             string
	Subject        string
	Text           string
	HTML           string
	IdempotencyKey string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(m.Text) == "" && strings.TrimSpace(m.HTML) == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

// DeliveryResult is the provider's acknowledgement of an accepted message.
type DeliveryResult struct {
	StatusCode        int
	ProviderMessageID string
}
