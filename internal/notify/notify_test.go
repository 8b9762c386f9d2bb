package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

type mockAPI struct {
	sent []twilioApi.CreateMessageParams
	err  error
}

func (m *mockAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	m.sent = append(m.sent, *params)
	if m.err != nil {
		return nil, m.err
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestNotifyConsultation(t *testing.T) {
	api := &mockAPI{}
	c := &Client{api: api, from: "+15550000001", to: "+15550000002"}

	err := c.NotifyConsultation(context.Background(), "c_abc", models.ConsultationFields{
		models.FieldName:    "Ada Lovelace",
		models.FieldConcern: "rash",
		models.FieldTriage:  "urgent",
		models.FieldPhone:   "+15551234567",
	})
	if err != nil {
		t.Fatalf("NotifyConsultation failed: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(api.sent))
	}
	sent := api.sent[0]
	if sent.To == nil || *sent.To != "+15550000002" {
		t.Errorf("unexpected recipient: %v", sent.To)
	}
	body := *sent.Body
	for _, want := range []string{"c_abc", "Ada Lovelace", "rash", "urgent"} {
		if !strings.Contains(body, want) {
			t.Errorf("summary missing %q: %q", want, body)
		}
	}
}

func TestNotifyConsultationSendFailure(t *testing.T) {
	c := &Client{api: &mockAPI{err: errors.New("auth failed")}, from: "+1", to: "+2"}
	if err := c.NotifyConsultation(context.Background(), "c_abc", nil); err == nil {
		t.Fatal("expected error from failed send")
	}
}

func TestBuildSummaryOmitsMissingFields(t *testing.T) {
	body := buildSummary("c_1", models.ConsultationFields{models.FieldName: "Grace"})
	if strings.Contains(body, "concern") || strings.Contains(body, "urgency") {
		t.Errorf("summary should omit absent fields: %q", body)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	t.Setenv("CLINIC_NOTIFY_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without credentials")
	}
}
