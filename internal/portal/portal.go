// Package portal forwards completed intakes to the clinic portal webhook.
// Delivery is best-effort: the conversation never waits on the portal, and a
// failed forward is logged, not retried.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

// defaultTimeout bounds a webhook delivery.
const defaultTimeout = 10 * time.Second

// payload is the webhook body the clinic portal receives.
type payload struct {
	ConsultationID string                    `json:"consultation_id"`
	CompletedAt    time.Time                 `json:"completed_at"`
	Fields         models.ConsultationFields `json:"fields"`
}

// Opts holds configuration for the portal client.
type Opts struct {
	URL    string
	Secret string
}

// Option configures the portal client.
type Option func(*Opts)

// WithURL sets the webhook endpoint, falling back to the PORTAL_WEBHOOK_URL
// environment variable.
func WithURL(url string) Option {
	return func(o *Opts) {
		if url == "" {
			url = os.Getenv("PORTAL_WEBHOOK_URL")
		}
		o.URL = url
	}
}

// WithSecret sets the bearer token sent with each delivery, falling back to
// the PORTAL_WEBHOOK_SECRET environment variable.
func WithSecret(secret string) Option {
	return func(o *Opts) {
		if secret == "" {
			secret = os.Getenv("PORTAL_WEBHOOK_SECRET")
		}
		o.Secret = secret
	}
}

// Client posts completed intakes to the portal webhook.
type Client struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewClient builds a portal client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("portal webhook URL not set")
	}
	slog.Debug("portal.NewClient: client initialized", "secret_set", cfg.Secret != "")
	return &Client{
		url:        cfg.URL,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Forward delivers one completed consultation to the portal.
func (c *Client) Forward(ctx context.Context, consultationID string, fields models.ConsultationFields) error {
	body, err := json.Marshal(payload{
		ConsultationID: consultationID,
		CompletedAt:    time.Now().UTC(),
		Fields:         fields,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal portal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build portal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Client.Forward: webhook delivery failed", "consultationID", consultationID, "error", err)
		return fmt.Errorf("portal delivery failed for %s: %w", consultationID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("Client.Forward: portal rejected delivery", "consultationID", consultationID, "status", resp.StatusCode)
		return fmt.Errorf("portal returned status %d for %s", resp.StatusCode, consultationID)
	}
	slog.Info("Client.Forward: consultation forwarded", "consultationID", consultationID)
	return nil
}
