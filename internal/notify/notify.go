// Package notify sends clinic staff a short SMS when an intake finishes,
// using the Twilio API.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

// messageAPI is the slice of the Twilio client used here, extracted so tests
// can substitute a mock.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the clinic notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	ClinicTo   string
}

// Option defines a configuration option for the clinic notifier.
type Option func(*Opts)

func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithClinicNumber sets the staff phone number that receives notifications.
func WithClinicNumber(to string) Option {
	return func(o *Opts) { o.ClinicTo = to }
}

// Client sends consultation notifications over SMS.
type Client struct {
	api  messageAPI
	from string
	to   string
}

// NewClient builds the notifier, falling back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER, and CLINIC_NOTIFY_NUMBER environment
// variables for unset options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.ClinicTo == "" {
		cfg.ClinicTo = os.Getenv("CLINIC_NOTIFY_NUMBER")
	}
	slog.Debug("notify.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"ClinicTo_set", cfg.ClinicTo != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.ClinicTo == "" {
		return nil, fmt.Errorf("from and clinic numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{api: client.Api, from: cfg.From, to: cfg.ClinicTo}, nil
}

// NotifyConsultation sends the clinic a summary SMS for a finished intake.
func (c *Client) NotifyConsultation(_ context.Context, consultationID string, fields models.ConsultationFields) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.to)
	params.SetFrom(c.from)
	params.SetBody(buildSummary(consultationID, fields))

	if _, err := c.api.CreateMessage(params); err != nil {
		slog.Error("Client.NotifyConsultation: send failed", "consultationID", consultationID, "error", err)
		return fmt.Errorf("failed to notify clinic for %s: %w", consultationID, err)
	}
	slog.Debug("Client.NotifyConsultation: notification sent", "consultationID", consultationID)
	return nil
}

// buildSummary renders the one-SMS digest staff see. Photos and transcripts
// stay in the portal; the SMS carries just enough to triage.
func buildSummary(consultationID string, fields models.ConsultationFields) string {
	var b strings.Builder
	b.WriteString("New intake ")
	b.WriteString(consultationID)
	if name := fields[models.FieldName]; name != "" {
		b.WriteString(": ")
		b.WriteString(name)
	}
	if concern := fields[models.FieldConcern]; concern != "" {
		b.WriteString(", concern: ")
		b.WriteString(concern)
	}
	if triage := fields[models.FieldTriage]; triage != "" {
		b.WriteString(", urgency: ")
		b.WriteString(triage)
	}
	if phone := fields[models.FieldPhone]; phone != "" {
		b.WriteString(", phone: ")
		b.WriteString(phone)
	}
	return b.String()
}
