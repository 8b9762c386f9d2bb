package flow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

const (
	// DefaultSideEffectTimeout bounds each hook invocation so a slow
	// collaborator cannot stall the conversation.
	DefaultSideEffectTimeout = 12 * time.Second

	// maxEntryDelay caps the typing pause a step may request.
	maxEntryDelay = 2 * time.Second

	// imageTranscriptPlaceholder stands in for raw image bytes in the
	// visible transcript.
	imageTranscriptPlaceholder = "[photo attached]"
)

// genericApology is spoken when a side effect fails in a way its hook did not
// soften itself.
const genericApology = "Sorry, something went wrong on our side just now, but we can keep going."

// Session is the mutable per-conversation state owned by a Runtime. Hooks
// receive it while the runtime holds its transition lock, so Session methods
// do not lock.
type Session struct {
	id             string
	channel        string
	data           SessionData
	transcript     []models.TranscriptEntry
	consultationID string
	listener       func(models.TranscriptEntry)
	clock          func() time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Channel names the surface the session arrived on, such as "widget" or
// "whatsapp".
func (s *Session) Channel() string { return s.channel }

// Field returns the collected value for a field, or "" when absent.
func (s *Session) Field(name string) string { return s.data[name] }

// SetField records a value into session data.
func (s *Session) SetField(name, value string) { s.data[name] = value }

// Fields returns a copy of the session data collected so far.
func (s *Session) Fields() SessionData { return s.data.Clone() }

// ConsultationID returns the backing consultation record id, or "" before one
// has been created.
func (s *Session) ConsultationID() string { return s.consultationID }

// SetConsultationID records the backing consultation record id.
func (s *Session) SetConsultationID(id string) { s.consultationID = id }

// AppendBot adds a bot message to the transcript and notifies the listener.
func (s *Session) AppendBot(body string) {
	s.append(models.TranscriptEntry{Kind: models.EntryBot, Body: body, Time: s.clock()})
}

// AppendAnalysis adds a structured analysis card to the transcript and
// notifies the listener.
func (s *Session) AppendAnalysis(res *models.AnalysisResult) {
	s.append(models.TranscriptEntry{Kind: models.EntryAnalysis, Analysis: res, Time: s.clock()})
}

func (s *Session) appendUser(body string) {
	s.transcript = append(s.transcript, models.TranscriptEntry{Kind: models.EntryUser, Body: body, Time: s.clock()})
}

func (s *Session) append(e models.TranscriptEntry) {
	s.transcript = append(s.transcript, e)
	if s.listener != nil {
		s.listener(e)
	}
}

// TranscriptJSON serializes the transcript for persistence.
func (s *Session) TranscriptJSON() string {
	b, err := json.Marshal(s.transcript)
	if err != nil {
		slog.Error("Session.TranscriptJSON: failed to marshal transcript", "sessionID", s.id, "error", err)
		return "[]"
	}
	return string(b)
}

// Runtime walks a Definition for one session. All state transitions are
// serialized; a second input arriving while a transition is in flight is
// rejected with models.ErrTransitionInFlight rather than queued.
type Runtime struct {
	def      *Definition
	hooks    *HookRegistry
	sess     *Session
	mu       sync.Mutex
	inFlight atomic.Bool
	current  string
	done     bool

	effectTimeout time.Duration
	sleep         func(time.Duration)
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithSessionID sets the session identifier.
func WithSessionID(id string) RuntimeOption {
	return func(r *Runtime) { r.sess.id = id }
}

// WithChannel names the surface the session arrived on.
func WithChannel(channel string) RuntimeOption {
	return func(r *Runtime) { r.sess.channel = channel }
}

// WithListener registers a callback invoked for every bot and analysis entry
// appended to the transcript. Channels that push messages out, like the
// WhatsApp service, use it to deliver replies.
func WithListener(fn func(models.TranscriptEntry)) RuntimeOption {
	return func(r *Runtime) { r.sess.listener = fn }
}

// WithSideEffectTimeout overrides the per-hook timeout.
func WithSideEffectTimeout(d time.Duration) RuntimeOption {
	return func(r *Runtime) { r.effectTimeout = d }
}

// WithClock overrides the transcript timestamp source.
func WithClock(fn func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.sess.clock = fn }
}

// WithSleep overrides how entry delays are waited out. Tests use it to skip
// typing pauses.
func WithSleep(fn func(time.Duration)) RuntimeOption {
	return func(r *Runtime) { r.sleep = fn }
}

// NewRuntime builds a runtime for one session over the given definition. The
// definition must already have passed Validate.
func NewRuntime(def *Definition, hooks *HookRegistry, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		def:   def,
		hooks: hooks,
		sess: &Session{
			data:  make(SessionData),
			clock: time.Now,
		},
		effectTimeout: DefaultSideEffectTimeout,
		sleep: func(d time.Duration) {
			if d > maxEntryDelay {
				d = maxEntryDelay
			}
			time.Sleep(d)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sess.channel != "" {
		r.sess.data[models.FieldChannel] = r.sess.channel
	}
	return r
}

// Start enters the definition's entry step, running its side effects and
// speaking its opening messages.
func (r *Runtime) Start(ctx context.Context) error {
	r.inFlight.Store(true)
	defer r.inFlight.Store(false)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != "" || r.done {
		return fmt.Errorf("flow runtime: session %s already started", r.sess.id)
	}
	return r.enterStep(ctx, r.def.Entry())
}

// SubmitInput feeds one user input to the current step. Invalid input appends
// exactly one error entry to the transcript, does not advance the flow, and
// returns models.ErrInputRejected. After a terminal step has been reached it
// returns models.ErrSessionEnded.
func (r *Runtime) SubmitInput(ctx context.Context, raw string) error {
	if !r.inFlight.CompareAndSwap(false, true) {
		return models.ErrTransitionInFlight
	}
	defer r.inFlight.Store(false)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return models.ErrSessionEnded
	}
	step, ok := r.def.Step(r.current)
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrUnknownStep, r.current)
	}
	if step.Input == models.InputNone {
		slog.Debug("Runtime.SubmitInput: input sent to non-collecting step", "sessionID", r.sess.id, "step", r.current)
		return nil
	}

	result := validateInput(step, raw)
	if !result.OK {
		slog.Debug("Runtime.SubmitInput: input rejected", "sessionID", r.sess.id, "step", r.current)
		r.sess.AppendBot(result.Message)
		return models.ErrInputRejected
	}

	display := raw
	switch step.Input {
	case models.InputOptionChoice:
		display = labelFor(step.Options, raw)
	case models.InputImage:
		display = imageTranscriptPlaceholder
	}
	if strings.TrimSpace(display) != "" {
		r.sess.appendUser(display)
	}

	if field, bound := r.def.FieldFor(step.ID); bound && strings.TrimSpace(raw) != "" {
		r.sess.SetField(field, raw)
	}

	next := step.Next.Resolve(raw)
	if next == "" {
		return nil
	}
	return r.enterStep(ctx, next)
}

// SelectOption submits an option value on behalf of the widget's button UI.
func (r *Runtime) SelectOption(ctx context.Context, value string) error {
	return r.SubmitInput(ctx, value)
}

// SubmitImage validates and base64-encodes an uploaded photo, then feeds it
// through the normal input path.
func (r *Runtime) SubmitImage(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return models.ErrEmptyImagePayload
	}
	if len(payload) > models.MaxImagePayloadBytes {
		return models.ErrImageTooLarge
	}
	return r.SubmitInput(ctx, base64.StdEncoding.EncodeToString(payload))
}

// enterStep advances through the graph from the given step, running side
// effects and speaking messages, until it reaches a step that collects input
// or terminates the flow. Callers hold r.mu.
func (r *Runtime) enterStep(ctx context.Context, id string) error {
	for {
		step, ok := r.def.Step(id)
		if !ok {
			return fmt.Errorf("%w: %q", models.ErrUnknownStep, id)
		}
		r.current = id
		slog.Debug("Runtime.enterStep: entering step", "sessionID", r.sess.id, "step", id)

		if step.SideEffect != "" {
			r.runSideEffect(ctx, step)
		}
		if step.EntryDelay > 0 {
			r.sleep(step.EntryDelay)
		}
		if msg := step.Message.Resolve(r.sess.data); msg != "" {
			r.sess.AppendBot(msg)
		}
		if step.Terminal {
			r.done = true
			return nil
		}
		if step.Input != models.InputNone {
			return nil
		}
		next := step.Next.Resolve("")
		if next == "" {
			return nil
		}
		id = next
	}
}

// runSideEffect fires a step's hook under the effect timeout. Hook failures
// never abort the conversation; hooks are expected to soften their own
// failures, and anything they let escape is logged and apologized for.
func (r *Runtime) runSideEffect(ctx context.Context, step StepSpec) {
	fn, arg, err := r.hooks.Resolve(step.SideEffect)
	if err != nil {
		slog.Error("Runtime.runSideEffect: unresolvable side effect tag", "sessionID", r.sess.id, "step", step.ID, "tag", step.SideEffect, "error", err)
		return
	}
	effectCtx, cancel := context.WithTimeout(ctx, r.effectTimeout)
	defer cancel()
	if err := fn(effectCtx, r.sess, arg); err != nil {
		slog.Error("Runtime.runSideEffect: side effect failed", "sessionID", r.sess.id, "step", step.ID, "tag", step.SideEffect, "error", err)
		r.sess.AppendBot(genericApology)
	}
}

// Done reports whether a terminal step has been reached.
func (r *Runtime) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// CurrentStepID returns the id of the step awaiting input.
func (r *Runtime) CurrentStepID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// SessionID returns the session identifier.
func (r *Runtime) SessionID() string { return r.sess.id }

// ConsultationID returns the backing consultation record id, or "".
func (r *Runtime) ConsultationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.consultationID
}

// Field returns the collected value for a field, or "".
func (r *Runtime) Field(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.data[name]
}

// Transcript returns a copy of the conversation so far.
func (r *Runtime) Transcript() []models.TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TranscriptEntry, len(r.sess.transcript))
	copy(out, r.sess.transcript)
	return out
}

// Metadata describes the current step for rendering: what kind of input the
// widget should offer, the options to show, and whether input is momentarily
// disabled because a transition is in flight.
func (r *Runtime) Metadata() models.StepMetadata {
	if r.inFlight.Load() {
		return models.StepMetadata{Disabled: true}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	meta := models.StepMetadata{StepID: r.current, Terminal: r.done}
	if step, ok := r.def.Step(r.current); ok {
		meta.InputKind = step.Input
		meta.Options = step.Options
	}
	return meta
}

// View assembles the session snapshot returned to widget clients.
func (r *Runtime) View() models.SessionView {
	return models.SessionView{
		SessionID:  r.SessionID(),
		Transcript: r.Transcript(),
		Step:       r.Metadata(),
	}
}
