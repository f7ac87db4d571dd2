package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultResendEndpoint = "https://api.resend.com/emails"
	defaultSendTimeout    = 10 * time.Second
	idempotencyHeader     = "Idempotency-Key"
)

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

type resendError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type ResendConfig struct {
	APIKey   string
	Endpoint string
	From     string
}

// ResendGateway delivers e-mail through the Resend HTTP API.
type ResendGateway struct {
	client   *resty.Client
	endpoint string
	from     string
}

func NewResendGateway(cfg ResendConfig) (*ResendGateway, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)

	return NewResendGatewayWithClient(cfg, client)
}

func NewResendGatewayWithClient(cfg ResendConfig, client *resty.Client) (*ResendGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultResendEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid resend endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	// Retries belong to the job queue; a resty retry would hide attempts from the ledger.
	client.SetRetryCount(0)
	client.SetAuthToken(apiKey)

	return &ResendGateway{
		client:   client,
		endpoint: endpoint,
		from:     from,
	}, nil
}

func (g *ResendGateway) Send(ctx context.Context, msg Message) (*DeliveryResult, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, &ProviderError{Message: err.Error(), Transient: false}
	}

	var accepted resendResponse
	var rejected resendError

	req := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(resendRequest{
			From:    g.from,
			To:      []string{msg.To},
			Subject: msg.Subject,
			HTML:    msg.HTML,
			Text:    msg.Text,
		}).
		SetResult(&accepted).
		SetError(&rejected)
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		req.SetHeader(idempotencyHeader, key)
	}

	response, err := req.Post(g.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "resend request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "resend returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		if strings.TrimSpace(accepted.ID) == "" {
			return nil, &ProviderError{
				StatusCode: statusCode,
				Message:    "resend response carries no message id",
				Transient:  true,
			}
		}
		return &DeliveryResult{
			StatusCode:        statusCode,
			ProviderMessageID: accepted.ID,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    errorMessage(statusCode, rejected, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func errorMessage(statusCode int, rejected resendError, body string) string {
	base := fmt.Sprintf("resend returned status %d", statusCode)
	switch {
	case rejected.Message != "" && rejected.Name != "":
		return fmt.Sprintf("%s: %s: %s", base, rejected.Name, rejected.Message)
	case rejected.Message != "":
		return fmt.Sprintf("%s: %s", base, rejected.Message)
	case body != "":
		return fmt.Sprintf("%s: %s", base, body)
	}
	return base
}
