package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

func TestPersistCreateIdempotent(t *testing.T) {
	st := newMockStore()
	e := NewEffects(
		WithConsultationStore(st),
		WithMilestones(map[string][]string{"create": {models.FieldName}}),
	)
	sess := &Session{id: "s_1", data: SessionData{models.FieldName: "Ada"}, clock: time.Now}

	if err := e.persistCreate(context.Background(), sess, ""); err != nil {
		t.Fatalf("persistCreate failed: %v", err)
	}
	first := sess.ConsultationID()
	if first == "" {
		t.Fatal("expected consultation id on session")
	}
	if err := e.persistCreate(context.Background(), sess, ""); err != nil {
		t.Fatalf("second persistCreate failed: %v", err)
	}
	if st.createN != 1 {
		t.Errorf("creation must be idempotent, store saw %d creates", st.createN)
	}
	if sess.ConsultationID() != first {
		t.Errorf("consultation id changed on repeat: %q -> %q", first, sess.ConsultationID())
	}
}

func TestPersistCreateFailureIsSwallowed(t *testing.T) {
	st := newMockStore()
	st.createErr = errors.New("db down")
	e := NewEffects(WithConsultationStore(st))
	sess := &Session{id: "s_1", data: SessionData{}, clock: time.Now}

	if err := e.persistCreate(context.Background(), sess, ""); err != nil {
		t.Fatalf("store failure must not surface: %v", err)
	}
	if sess.ConsultationID() != "" {
		t.Error("failed create must not record an id")
	}
}

func TestPersistPatchWithoutRecordIsNoop(t *testing.T) {
	st := newMockStore()
	e := NewEffects(
		WithConsultationStore(st),
		WithMilestones(map[string][]string{"triage": {models.FieldTriage}}),
	)
	sess := &Session{id: "s_1", data: SessionData{models.FieldTriage: "urgent"}, clock: time.Now}

	if err := e.persistPatch(context.Background(), sess, "triage"); err != nil {
		t.Fatalf("persistPatch failed: %v", err)
	}
	if len(st.patches) != 0 {
		t.Errorf("patch without a record must be a no-op, got %d patches", len(st.patches))
	}
}

func TestPersistPatchOnlyMilestoneFields(t *testing.T) {
	st := newMockStore()
	e := NewEffects(
		WithConsultationStore(st),
		WithMilestones(map[string][]string{
			"create": {models.FieldName},
			"triage": {models.FieldTriage},
		}),
	)
	sess := &Session{id: "s_1", data: SessionData{
		models.FieldName:   "Ada",
		models.FieldPhone:  "+15551234567",
		models.FieldTriage: "soon",
	}, clock: time.Now}

	if err := e.persistCreate(context.Background(), sess, ""); err != nil {
		t.Fatal(err)
	}
	if err := e.persistPatch(context.Background(), sess, "triage"); err != nil {
		t.Fatal(err)
	}
	if len(st.patches) != 1 {
		t.Fatalf("expected one patch, got %d", len(st.patches))
	}
	patch := st.patches[0].fields
	if patch[models.FieldTriage] != "soon" {
		t.Errorf("expected triage field in patch, got %+v", patch)
	}
	if _, ok := patch[models.FieldPhone]; ok {
		t.Error("fields outside the milestone must not be patched")
	}
}

func TestAnalyzeImageMergesResult(t *testing.T) {
	analyzer := &mockAnalyzer{result: &models.AnalysisResult{
		Condition:  "mild eczema pattern",
		Severity:   "low",
		Disclaimer: models.AnalysisDisclaimer,
	}}
	e := NewEffects(WithAnalyzer(analyzer))
	sess := &Session{id: "s_1", data: SessionData{models.FieldImage: "aGVsbG8="}, clock: time.Now}

	if err := e.analyzeImage(context.Background(), sess, ""); err != nil {
		t.Fatalf("analyzeImage failed: %v", err)
	}
	if sess.Field(models.FieldAnalysis) == "" {
		t.Error("expected analysis merged into session data")
	}
	if len(sess.transcript) != 1 || sess.transcript[0].Kind != models.EntryAnalysis {
		t.Fatalf("expected one analysis transcript entry, got %+v", sess.transcript)
	}
	if sess.transcript[0].Analysis.Condition != "mild eczema pattern" {
		t.Errorf("unexpected analysis payload: %+v", sess.transcript[0].Analysis)
	}
}

func TestAnalyzeImageFailureFallsBack(t *testing.T) {
	analyzer := &mockAnalyzer{err: errors.New("model unavailable")}
	e := NewEffects(WithAnalyzer(analyzer))
	sess := &Session{id: "s_1", data: SessionData{models.FieldImage: "aGVsbG8="}, clock: time.Now}

	if err := e.analyzeImage(context.Background(), sess, ""); err != nil {
		t.Fatalf("analysis failure must not surface: %v", err)
	}
	if len(sess.transcript) != 2 {
		t.Fatalf("expected apology plus fallback card, got %d entries", len(sess.transcript))
	}
	if sess.transcript[0].Body != analysisApology {
		t.Errorf("expected apology, got %q", sess.transcript[0].Body)
	}
	if !sess.transcript[1].Analysis.Fallback {
		t.Error("expected fallback analysis card")
	}
}

func TestAnalyzeImageTimeoutFallsBack(t *testing.T) {
	analyzer := &mockAnalyzer{
		delay:  200 * time.Millisecond,
		result: &models.AnalysisResult{Condition: "too late"},
	}
	hooks := NewEffects(WithAnalyzer(analyzer)).Registry()
	def := NewDefinition("photo", []StepSpec{
		{ID: "photo", Input: models.InputImage, Next: To("analysis")},
		{ID: "analysis", Input: models.InputNone, SideEffect: "analyze-image", Next: To("end")},
		{ID: "end", Terminal: true},
	}, map[string]string{"photo": models.FieldImage})
	rt := NewRuntime(def, hooks,
		WithSessionID("s_slow"),
		WithSleep(noSleep),
		WithSideEffectTimeout(20*time.Millisecond),
	)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := rt.SubmitInput(context.Background(), "aGVsbG8="); err != nil {
		t.Fatalf("SubmitInput failed: %v", err)
	}
	if !rt.Done() {
		t.Error("conversation must continue past a slow analyzer")
	}
	var sawFallback bool
	for _, e := range rt.Transcript() {
		if e.Kind == models.EntryAnalysis && e.Analysis.Fallback {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Error("expected fallback analysis after timeout")
	}
}

func TestCompleteClosesOutConsultation(t *testing.T) {
	st := newMockStore()
	portal := &mockPortal{}
	notifier := &mockNotifier{}
	e := NewEffects(
		WithConsultationStore(st),
		WithPortalForwarder(portal),
		WithClinicNotifier(notifier),
	)
	sess := &Session{id: "s_1", data: SessionData{models.FieldName: "Ada"}, clock: time.Now}
	if err := e.persistCreate(context.Background(), sess, ""); err != nil {
		t.Fatal(err)
	}
	id := sess.ConsultationID()

	if err := e.complete(context.Background(), sess, ""); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if st.statuses[id] != models.ConsultationStatusCompleted {
		t.Errorf("expected completed status, got %q", st.statuses[id])
	}
	if len(portal.forwarded) != 1 || portal.forwarded[0] != id {
		t.Errorf("expected portal forward for %q, got %v", id, portal.forwarded)
	}
	if portal.fields[models.FieldName] != "Ada" {
		t.Errorf("expected session fields in the portal payload, got %v", portal.fields)
	}
	if len(notifier.notified) != 1 {
		t.Errorf("expected one clinic notification, got %d", len(notifier.notified))
	}
	if notifier.fields[models.FieldName] != "Ada" {
		t.Errorf("expected session fields in the notification, got %v", notifier.fields)
	}
}

func TestCompleteWithoutRecordSkipsEverything(t *testing.T) {
	portal := &mockPortal{}
	e := NewEffects(WithPortalForwarder(portal))
	sess := &Session{id: "s_1", data: SessionData{}, clock: time.Now}

	if err := e.complete(context.Background(), sess, ""); err != nil {
		t.Fatal(err)
	}
	if len(portal.forwarded) != 0 {
		t.Error("no record means nothing to forward")
	}
}

// A persistence milestone on step S runs as S is entered, before S collects
// its own input. The field bound to S must therefore be absent from that
// patch and present in the next one.
func TestMilestoneNeverSeesOwnStepsField(t *testing.T) {
	st := newMockStore()
	e := NewEffects(
		WithConsultationStore(st),
		WithMilestones(map[string][]string{
			"create": {"a"},
			"both":   {"a", "b", "c"},
		}),
	)
	def := NewDefinition("a", []StepSpec{
		{ID: "a", Input: models.InputShortText, Next: To("b")},
		{ID: "b", Input: models.InputShortText, SideEffect: "persist-create", Next: To("c")},
		{ID: "c", Input: models.InputShortText, SideEffect: "persist-patch:both", Next: To("end")},
		{ID: "end", Terminal: true},
	}, map[string]string{"a": "a", "b": "b", "c": "c"})
	rt := NewRuntime(def, e.Registry(), WithSessionID("s_ord"), WithSleep(noSleep))
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := rt.SubmitInput(context.Background(), "alpha"); err != nil {
		t.Fatal(err)
	}
	// Entering b created the record with field a only; b's own answer was
	// not yet collected.
	if st.createN != 1 {
		t.Fatalf("expected create on entering b, got %d", st.createN)
	}

	if err := rt.SubmitInput(context.Background(), "beta"); err != nil {
		t.Fatal(err)
	}
	if len(st.patches) != 1 {
		t.Fatalf("expected patch on entering c, got %d", len(st.patches))
	}
	patch := st.patches[0].fields
	if patch["a"] != "alpha" || patch["b"] != "beta" {
		t.Errorf("expected earlier fields in patch, got %+v", patch)
	}
	if _, ok := patch["c"]; ok {
		t.Error("a milestone must not see the field its own step is about to collect")
	}
}
