package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/DermaBridge/IntakeFlow/internal/flow"
	"github.com/DermaBridge/IntakeFlow/internal/models"
	"github.com/DermaBridge/IntakeFlow/internal/session"
)

// sessionKeyPrefix namespaces WhatsApp sessions inside the shared manager so
// they cannot collide with widget session ids.
const sessionKeyPrefix = "wa:"

// IntakeResponder consumes incoming WhatsApp messages and drives one intake
// session per patient phone number. Bot replies flow back out through the
// same messaging service.
type IntakeResponder struct {
	svc      Service
	sessions *session.Manager
}

// NewIntakeResponder wires a messaging service to the session manager.
func NewIntakeResponder(svc Service, sessions *session.Manager) *IntakeResponder {
	return &IntakeResponder{svc: svc, sessions: sessions}
}

// Start consumes the service's response channel until the context is
// cancelled or the channel closes. Run it in its own goroutine.
func (r *IntakeResponder) Start(ctx context.Context) {
	slog.Info("IntakeResponder.Start: consuming incoming messages")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("IntakeResponder.Start: context cancelled")
			return
		case resp, ok := <-r.svc.Responses():
			if !ok {
				slog.Debug("IntakeResponder.Start: response channel closed")
				return
			}
			r.handle(ctx, resp)
		}
	}
}

// handle routes one incoming message into its patient's session.
func (r *IntakeResponder) handle(ctx context.Context, resp models.Response) {
	phone, err := r.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Warn("IntakeResponder.handle: unroutable sender", "from", resp.From, "error", err)
		return
	}
	key := sessionKeyPrefix + phone

	rt, err := r.sessions.Get(key)
	if errors.Is(err, models.ErrSessionNotFound) {
		rt, err = r.startSession(ctx, key, phone)
		if err != nil {
			slog.Error("IntakeResponder.handle: failed to start session", "key", key, "error", err)
			return
		}
		// The new session's opening messages are the reply; the first
		// inbound message itself is not fed to the flow.
		r.sendOptionMenu(ctx, phone, rt)
		return
	}
	if err != nil {
		slog.Error("IntakeResponder.handle: session lookup failed", "key", key, "error", err)
		return
	}

	input := resp.Body
	if !resp.Image {
		input = mapOptionReply(rt.Metadata(), resp.Body)
	}
	err = rt.SubmitInput(ctx, input)
	switch {
	case errors.Is(err, models.ErrSessionEnded):
		// Conversation finished earlier; a fresh message starts a new intake.
		r.sessions.Remove(key)
		if rt, err = r.startSession(ctx, key, phone); err != nil {
			slog.Error("IntakeResponder.handle: failed to restart session", "key", key, "error", err)
			return
		}
	case errors.Is(err, models.ErrInputRejected):
		// The validation message already went out through the listener.
	case errors.Is(err, models.ErrTransitionInFlight):
		slog.Debug("IntakeResponder.handle: dropping message during transition", "key", key)
		return
	case err != nil:
		slog.Error("IntakeResponder.handle: submit failed", "key", key, "error", err)
		return
	}

	if rt.Done() {
		r.sessions.Remove(key)
		return
	}
	r.sendOptionMenu(ctx, phone, rt)
}

// startSession opens a new intake session for a phone number with a listener
// that pushes every bot and analysis entry back over WhatsApp.
func (r *IntakeResponder) startSession(ctx context.Context, key, phone string) (*flow.Runtime, error) {
	listener := func(e models.TranscriptEntry) {
		body := renderEntry(e)
		if body == "" {
			return
		}
		if err := r.svc.SendMessage(ctx, phone, body); err != nil {
			slog.Error("IntakeResponder: failed to deliver reply", "to", phone, "error", err)
		}
	}
	return r.sessions.StartWithID(ctx, key,
		flow.WithChannel("whatsapp"),
		flow.WithListener(listener),
	)
}

// sendOptionMenu sends the numbered choices for the current step, when it has
// any. WhatsApp has no buttons, so options become a reply-with-a-number menu.
func (r *IntakeResponder) sendOptionMenu(ctx context.Context, phone string, rt *flow.Runtime) {
	meta := rt.Metadata()
	if len(meta.Options) == 0 {
		return
	}
	var b strings.Builder
	for i, opt := range meta.Options {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, opt.Label)
	}
	if err := r.svc.SendMessage(ctx, phone, b.String()); err != nil {
		slog.Error("IntakeResponder.sendOptionMenu: send failed", "to", phone, "error", err)
	}
}

// mapOptionReply translates a patient's reply to an option step into the
// option's value: a menu number or a label match both count. Anything else
// passes through untouched and fails validation with the step's message.
func mapOptionReply(meta models.StepMetadata, body string) string {
	if len(meta.Options) == 0 {
		return body
	}
	trimmed := strings.TrimSpace(body)
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(meta.Options) {
		return meta.Options[n-1].Value
	}
	for _, opt := range meta.Options {
		if strings.EqualFold(trimmed, opt.Label) || trimmed == opt.Value {
			return opt.Value
		}
	}
	return body
}

// renderEntry flattens a transcript entry into a WhatsApp message body.
func renderEntry(e models.TranscriptEntry) string {
	switch e.Kind {
	case models.EntryBot:
		return e.Body
	case models.EntryAnalysis:
		if e.Analysis == nil {
			return ""
		}
		var b strings.Builder
		b.WriteString(e.Analysis.Condition)
		if e.Analysis.Severity != "" && e.Analysis.Severity != "unknown" {
			b.WriteString("\nSeverity: ")
			b.WriteString(e.Analysis.Severity)
		}
		for _, rec := range e.Analysis.Recommendations {
			b.WriteString("\n- ")
			b.WriteString(rec)
		}
		if e.Analysis.Disclaimer != "" {
			b.WriteString("\n\n")
			b.WriteString(e.Analysis.Disclaimer)
		}
		return b.String()
	default:
		return ""
	}
}
