package flow

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

func startedRuntime(t *testing.T, def *Definition, hooks *HookRegistry, opts ...RuntimeOption) *Runtime {
	t.Helper()
	if hooks == nil {
		hooks = NewHookRegistry()
	}
	opts = append([]RuntimeOption{WithSessionID("s_test"), WithSleep(noSleep)}, opts...)
	rt := NewRuntime(def, hooks, opts...)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return rt
}

func TestRuntimeStartSpeaksEntryMessage(t *testing.T) {
	def := NewDefinition("hello", []StepSpec{
		{ID: "hello", Message: Text("hi there"), Input: models.InputNone, Next: To("ask")},
		{ID: "ask", Message: Text("name?"), Input: models.InputShortText, Next: To("end")},
		{ID: "end", Terminal: true},
	}, nil)
	rt := startedRuntime(t, def, nil)

	transcript := rt.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("expected 2 bot entries after auto-advance, got %d", len(transcript))
	}
	if transcript[0].Body != "hi there" || transcript[1].Body != "name?" {
		t.Errorf("unexpected transcript: %+v", transcript)
	}
	if rt.CurrentStepID() != "ask" {
		t.Errorf("expected to stop at collecting step, got %q", rt.CurrentStepID())
	}
}

func TestRuntimeSubmitInputAdvancesAndBinds(t *testing.T) {
	rt := startedRuntime(t, twoStepDefinition(), nil)

	if err := rt.SubmitInput(context.Background(), "forty-two"); err != nil {
		t.Fatalf("SubmitInput failed: %v", err)
	}
	if rt.Field("answer") != "forty-two" {
		t.Errorf("expected answer bound, got %q", rt.Field("answer"))
	}
	if !rt.Done() {
		t.Error("expected terminal step to end the session")
	}
}

func TestRuntimeRejectionAppendsOneErrorAndStays(t *testing.T) {
	def := NewDefinition("ask", []StepSpec{
		{
			ID: "ask", Message: Text("age?"), Input: models.InputShortText,
			Validate:     func(s string) bool { return s == "ok" },
			ErrorMessage: "please type ok",
			Next:         To("end"),
		},
		{ID: "end", Terminal: true},
	}, nil)
	rt := startedRuntime(t, def, nil)
	before := len(rt.Transcript())

	err := rt.SubmitInput(context.Background(), "nope")
	if !errors.Is(err, models.ErrInputRejected) {
		t.Fatalf("expected ErrInputRejected, got %v", err)
	}
	transcript := rt.Transcript()
	if len(transcript) != before+1 {
		t.Fatalf("expected exactly one new transcript entry, got %d new", len(transcript)-before)
	}
	last := transcript[len(transcript)-1]
	if last.Kind != models.EntryBot || last.Body != "please type ok" {
		t.Errorf("expected error message entry, got %+v", last)
	}
	if rt.CurrentStepID() != "ask" {
		t.Errorf("rejected input must not advance, now at %q", rt.CurrentStepID())
	}
	if rt.Done() {
		t.Error("session must remain active after rejection")
	}
}

func TestRuntimeOptionLabelInTranscript(t *testing.T) {
	def := NewDefinition("pick", []StepSpec{
		{
			ID: "pick", Message: Text("photo?"), Input: models.InputOptionChoice,
			Options: []models.StepOption{
				{Label: "Yes", Value: "with_photo"},
				{Label: "No", Value: "no_photo"},
			},
			Next: ToFunc(func(input string) string { return input }),
		},
		{ID: "with_photo", Terminal: true},
		{ID: "no_photo", Terminal: true},
	}, map[string]string{"pick": "choice"})
	rt := startedRuntime(t, def, nil)

	if err := rt.SelectOption(context.Background(), "with_photo"); err != nil {
		t.Fatalf("SelectOption failed: %v", err)
	}
	var userBody string
	for _, e := range rt.Transcript() {
		if e.Kind == models.EntryUser {
			userBody = e.Body
		}
	}
	if userBody != "Yes" {
		t.Fatalf("expected option label in transcript, got %q", userBody)
	}
	if rt.Field("choice") != "with_photo" {
		t.Errorf("expected option value bound, got %q", rt.Field("choice"))
	}
	if rt.CurrentStepID() != "with_photo" {
		t.Errorf("expected branch on option value, at %q", rt.CurrentStepID())
	}
}

func TestRuntimeEmptyOptionalInputNotInTranscript(t *testing.T) {
	def := NewDefinition("email", []StepSpec{
		{ID: "email", Message: Text("email?"), Input: models.InputEmail, Optional: true, Next: To("end")},
		{ID: "end", Terminal: true},
	}, map[string]string{"email": "email"})
	rt := startedRuntime(t, def, nil)

	if err := rt.SubmitInput(context.Background(), ""); err != nil {
		t.Fatalf("empty optional input should advance: %v", err)
	}
	for _, e := range rt.Transcript() {
		if e.Kind == models.EntryUser {
			t.Fatalf("empty user input must not appear in transcript: %+v", e)
		}
	}
	if _, ok := rt.sess.data["email"]; ok {
		t.Error("empty input must not bind a field value")
	}
}

func TestRuntimeEmptyNextStays(t *testing.T) {
	def := NewDefinition("ask", []StepSpec{
		{ID: "ask", Message: Text("talk to me"), Input: models.InputShortText, Next: Next{}},
		{ID: "end", Terminal: true},
	}, nil)
	// Structural validation would flag the unreachable terminal; build the
	// runtime directly to exercise the stay behavior.
	rt := startedRuntime(t, def, nil)

	if err := rt.SubmitInput(context.Background(), "hello"); err != nil {
		t.Fatalf("SubmitInput failed: %v", err)
	}
	if rt.CurrentStepID() != "ask" {
		t.Errorf("empty next must stay on the step, at %q", rt.CurrentStepID())
	}
}

func TestRuntimeUnknownStepIsFatal(t *testing.T) {
	def := NewDefinition("ask", []StepSpec{
		{ID: "ask", Input: models.InputShortText, Next: ToFunc(func(string) string { return "ghost" })},
		{ID: "end", Terminal: true},
	}, nil)
	rt := startedRuntime(t, def, nil)

	err := rt.SubmitInput(context.Background(), "anything")
	if !errors.Is(err, models.ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
}

func TestRuntimeInputAfterTerminal(t *testing.T) {
	rt := startedRuntime(t, twoStepDefinition(), nil)
	if err := rt.SubmitInput(context.Background(), "done"); err != nil {
		t.Fatalf("SubmitInput failed: %v", err)
	}
	err := rt.SubmitInput(context.Background(), "more")
	if !errors.Is(err, models.ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

func TestRuntimeSideEffectFiresBeforeMessage(t *testing.T) {
	var order []string
	hooks := NewHookRegistry()
	hooks.Register("mark", func(_ context.Context, sess *Session, _ string) error {
		order = append(order, "effect")
		return nil
	})
	def := NewDefinition("greet", []StepSpec{
		{ID: "greet", Message: Text("hello"), Input: models.InputShortText, SideEffect: "mark", Next: To("end")},
		{ID: "end", Terminal: true},
	}, nil)
	rt := startedRuntime(t, def, hooks)

	transcript := rt.Transcript()
	if len(order) != 1 {
		t.Fatalf("expected side effect to fire once, fired %d times", len(order))
	}
	if len(transcript) != 1 || transcript[0].Body != "hello" {
		t.Fatalf("expected message after effect, got %+v", transcript)
	}
}

func TestRuntimeSideEffectFailureApologizesAndContinues(t *testing.T) {
	hooks := NewHookRegistry()
	hooks.Register("boom", func(context.Context, *Session, string) error {
		return errors.New("collaborator down")
	})
	def := NewDefinition("greet", []StepSpec{
		{ID: "greet", Message: Text("hello"), Input: models.InputShortText, SideEffect: "boom", Next: To("end")},
		{ID: "end", Terminal: true},
	}, nil)
	rt := startedRuntime(t, def, hooks)

	transcript := rt.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("expected apology plus step message, got %d entries", len(transcript))
	}
	if transcript[0].Body != genericApology {
		t.Errorf("expected apology first, got %q", transcript[0].Body)
	}
	if rt.CurrentStepID() != "greet" {
		t.Errorf("flow must continue after a failed effect, at %q", rt.CurrentStepID())
	}
}

func TestRuntimeSubmitImage(t *testing.T) {
	def := NewDefinition("photo", []StepSpec{
		{ID: "photo", Message: Text("attach"), Input: models.InputImage, Next: To("end")},
		{ID: "end", Terminal: true},
	}, map[string]string{"photo": models.FieldImage})
	rt := startedRuntime(t, def, nil)

	if err := rt.SubmitImage(context.Background(), nil); !errors.Is(err, models.ErrEmptyImagePayload) {
		t.Fatalf("expected ErrEmptyImagePayload, got %v", err)
	}
	big := bytes.Repeat([]byte{0xff}, models.MaxImagePayloadBytes+1)
	if err := rt.SubmitImage(context.Background(), big); !errors.Is(err, models.ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}

	if err := rt.SubmitImage(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}); err != nil {
		t.Fatalf("SubmitImage failed: %v", err)
	}
	if rt.Field(models.FieldImage) == "" {
		t.Error("expected image payload bound to field")
	}
	for _, e := range rt.Transcript() {
		if e.Kind == models.EntryUser && e.Body != imageTranscriptPlaceholder {
			t.Errorf("raw image bytes must not appear in transcript, got %q", e.Body)
		}
	}
}

func TestRuntimeListenerReceivesBotEntries(t *testing.T) {
	var heard []models.TranscriptEntry
	def := twoStepDefinition()
	rt := startedRuntime(t, def, nil, WithListener(func(e models.TranscriptEntry) {
		heard = append(heard, e)
	}))

	if len(heard) != 1 || heard[0].Body != "question?" {
		t.Fatalf("expected listener to hear the opening message, got %+v", heard)
	}
	if err := rt.SubmitInput(context.Background(), "fine"); err != nil {
		t.Fatalf("SubmitInput failed: %v", err)
	}
	last := heard[len(heard)-1]
	if last.Kind != models.EntryBot || last.Body != "bye" {
		t.Errorf("expected listener to hear terminal message, got %+v", last)
	}
}

func TestRuntimeMetadata(t *testing.T) {
	def := NewDefinition("pick", []StepSpec{
		{
			ID: "pick", Input: models.InputOptionChoice,
			Options: []models.StepOption{{Label: "Yes", Value: "yes"}},
			Next:    To("end"),
		},
		{ID: "end", Terminal: true},
	}, nil)
	rt := startedRuntime(t, def, nil)

	meta := rt.Metadata()
	if meta.StepID != "pick" || meta.InputKind != models.InputOptionChoice {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if len(meta.Options) != 1 || meta.Options[0].Label != "Yes" {
		t.Errorf("expected options surfaced, got %+v", meta.Options)
	}
	if meta.Disabled {
		t.Error("metadata must not be disabled while idle")
	}
}
