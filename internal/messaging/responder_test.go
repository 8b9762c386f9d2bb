package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/flow"
	"github.com/DermaBridge/IntakeFlow/internal/models"
	"github.com/DermaBridge/IntakeFlow/internal/session"
)

type mockService struct {
	mu        sync.Mutex
	sent      []string
	responses chan models.Response
}

func newMockService() *mockService {
	return &mockService{responses: make(chan models.Response, 10)}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return phoneNumberRegex.ReplaceAllString(recipient, ""), nil
}

func (m *mockService) SendMessage(_ context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, body)
	return nil
}

func (m *mockService) Start(context.Context) error { return nil }
func (m *mockService) Stop() error                 { return nil }

func (m *mockService) Responses() <-chan models.Response { return m.responses }

func (m *mockService) sentBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

func intakeManager() *session.Manager {
	def := flow.NewIntakeScript(models.WidgetSettings{})
	effects := flow.NewEffects(flow.WithMilestones(flow.IntakeMilestones()))
	return session.NewManager(def, effects.Registry(),
		session.WithRuntimeOptions(flow.WithSleep(func(time.Duration) {})))
}

func TestResponderStartsSessionOnFirstMessage(t *testing.T) {
	svc := newMockService()
	r := NewIntakeResponder(svc, intakeManager())

	r.handle(context.Background(), models.Response{From: "+1 (555) 123-4567", Body: "hi"})

	sent := svc.sentBodies()
	if len(sent) == 0 {
		t.Fatal("expected opening messages to be sent")
	}
	joined := strings.Join(sent, "\n")
	if !strings.Contains(joined, "full name") {
		t.Errorf("expected the name prompt in replies, got %q", joined)
	}
}

func TestResponderWalksIntakeOverWhatsApp(t *testing.T) {
	svc := newMockService()
	mgr := intakeManager()
	r := NewIntakeResponder(svc, mgr)
	ctx := context.Background()
	from := "+15551234567"

	r.handle(ctx, models.Response{From: from, Body: "hello"})
	r.handle(ctx, models.Response{From: from, Body: "Ada Lovelace"})
	r.handle(ctx, models.Response{From: from, Body: "+44 20 7946 0958"})
	r.handle(ctx, models.Response{From: from, Body: "ada@example.com"})

	key := sessionKeyPrefix + "15551234567"
	rt, err := mgr.Get(key)
	if err != nil {
		t.Fatalf("expected live session: %v", err)
	}
	if rt.CurrentStepID() != "concern" {
		t.Fatalf("expected concern step, got %q", rt.CurrentStepID())
	}
	// The concern step's options went out as a numbered menu.
	var menu string
	for _, body := range svc.sentBodies() {
		if strings.Contains(body, "1. ") {
			menu = body
		}
	}
	if !strings.Contains(menu, "Rash or irritation") {
		t.Fatalf("expected option menu, got sent=%v", svc.sentBodies())
	}

	// Answering with a menu number maps to the option value.
	r.handle(ctx, models.Response{From: from, Body: "1"})
	if rt.Field(models.FieldConcern) != "rash" {
		t.Errorf("numbered reply should bind option value, got %q", rt.Field(models.FieldConcern))
	}
	if rt.CurrentStepID() != "photo_choice" {
		t.Errorf("expected photo_choice step, got %q", rt.CurrentStepID())
	}

	// Answering with a label also maps.
	r.handle(ctx, models.Response{From: from, Body: "no"})
	if rt.CurrentStepID() != "symptom_description" {
		t.Errorf("label reply should branch, got %q", rt.CurrentStepID())
	}
}

func TestResponderCompletedSessionIsRemoved(t *testing.T) {
	svc := newMockService()
	mgr := intakeManager()
	r := NewIntakeResponder(svc, mgr)
	ctx := context.Background()
	from := "+15559990000"

	steps := []string{"hello", "Ada Lovelace", "+15551234567", "ada@example.com", "4", "2",
		"itchy patch on my elbow", "3", "1"}
	for _, body := range steps {
		r.handle(ctx, models.Response{From: from, Body: body})
	}
	if _, err := mgr.Get(sessionKeyPrefix + "15559990000"); err == nil {
		t.Error("finished session should be removed from the manager")
	}
}

func TestMapOptionReply(t *testing.T) {
	meta := models.StepMetadata{Options: []models.StepOption{
		{Label: "Yes", Value: "image_upload"},
		{Label: "No", Value: "symptom_description"},
	}}
	cases := map[string]string{
		"1":            "image_upload",
		"2":            "symptom_description",
		"yes":          "image_upload",
		"NO":           "symptom_description",
		"image_upload": "image_upload",
		"maybe":        "maybe",
		"0":            "0",
		"3":            "3",
	}
	for in, want := range cases {
		if got := mapOptionReply(meta, in); got != want {
			t.Errorf("mapOptionReply(%q) = %q, want %q", in, got, want)
		}
	}
	if got := mapOptionReply(models.StepMetadata{}, "2"); got != "2" {
		t.Errorf("no options should pass through, got %q", got)
	}
}

func TestRenderEntryAnalysis(t *testing.T) {
	body := renderEntry(models.TranscriptEntry{
		Kind: models.EntryAnalysis,
		Analysis: &models.AnalysisResult{
			Condition:       "possible eczema",
			Severity:        "low",
			Recommendations: []string{"keep the area dry"},
			Disclaimer:      models.AnalysisDisclaimer,
		},
	})
	for _, want := range []string{"possible eczema", "Severity: low", "- keep the area dry", models.AnalysisDisclaimer} {
		if !strings.Contains(body, want) {
			t.Errorf("rendered analysis missing %q: %q", want, body)
		}
	}
	if renderEntry(models.TranscriptEntry{Kind: models.EntryUser, Body: "hi"}) != "" {
		t.Error("user entries must not be rendered back out")
	}
}
