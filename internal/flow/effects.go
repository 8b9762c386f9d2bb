package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

// Analyzer produces a preliminary skin assessment from an uploaded photo.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, imageB64 string) (*models.AnalysisResult, error)
}

// ConsultationStore persists consultation records progressively as an intake
// conversation advances.
type ConsultationStore interface {
	CreateConsultation(ctx context.Context, fields models.ConsultationFields) (string, error)
	PatchConsultation(ctx context.Context, id string, fields models.ConsultationFields) error
	SetConsultationStatus(ctx context.Context, id string, status models.ConsultationStatus) error
}

// PortalForwarder pushes a completed intake to the clinic portal.
type PortalForwarder interface {
	Forward(ctx context.Context, consultationID string, fields models.ConsultationFields) error
}

// ClinicNotifier alerts clinic staff that a consultation finished.
type ClinicNotifier interface {
	NotifyConsultation(ctx context.Context, consultationID string, fields models.ConsultationFields) error
}

// analysisApology is spoken when image analysis fails and the canned fallback
// is used instead.
const analysisApology = "I couldn't fully analyze the photo just now, but a clinician will review it directly."

// Effects binds the intake script's side effect tags to the collaborators
// behind them. Milestones maps each persistence milestone name to the session
// data fields included in its patch; fields a step has not collected yet are
// simply absent from the patch.
type Effects struct {
	analyzer   Analyzer
	store      ConsultationStore
	portal     PortalForwarder
	notifier   ClinicNotifier
	milestones map[string][]string
}

// EffectsOption configures Effects.
type EffectsOption func(*Effects)

// WithAnalyzer wires the image analyzer. Without one, analysis steps fall
// back to the canned result.
func WithAnalyzer(a Analyzer) EffectsOption {
	return func(e *Effects) { e.analyzer = a }
}

// WithConsultationStore wires progressive persistence. Without a store the
// persistence hooks are silent no-ops.
func WithConsultationStore(s ConsultationStore) EffectsOption {
	return func(e *Effects) { e.store = s }
}

// WithPortalForwarder wires the clinic portal webhook.
func WithPortalForwarder(p PortalForwarder) EffectsOption {
	return func(e *Effects) { e.portal = p }
}

// WithClinicNotifier wires completion notifications to clinic staff.
func WithClinicNotifier(n ClinicNotifier) EffectsOption {
	return func(e *Effects) { e.notifier = n }
}

// WithMilestones sets the per-milestone field lists used by persistence
// hooks.
func WithMilestones(m map[string][]string) EffectsOption {
	return func(e *Effects) { e.milestones = m }
}

// NewEffects assembles the side effect wiring for intake sessions.
func NewEffects(opts ...EffectsOption) *Effects {
	e := &Effects{milestones: make(map[string][]string)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns a hook registry with the standard intake side effects
// installed: analyze-image, persist-create, persist-patch:<milestone>,
// and complete.
func (e *Effects) Registry() *HookRegistry {
	reg := NewHookRegistry()
	reg.Register("analyze-image", e.analyzeImage)
	reg.Register("persist-create", e.persistCreate)
	reg.Register("persist-patch", e.persistPatch)
	reg.Register("complete", e.complete)
	return reg
}

// analyzeImage runs the uploaded photo through the analyzer and merges the
// result into session data and the transcript. Failures are softened into an
// apology and a canned fallback so the conversation continues.
func (e *Effects) analyzeImage(ctx context.Context, sess *Session, _ string) error {
	img := sess.Field(models.FieldImage)
	var (
		res *models.AnalysisResult
		err error
	)
	if e.analyzer == nil || img == "" {
		err = fmt.Errorf("no analyzer or image available")
	} else {
		res, err = e.analyzer.AnalyzeImage(ctx, img)
	}
	if err != nil {
		slog.Error("Effects.analyzeImage: analysis failed, using fallback", "sessionID", sess.ID(), "error", err)
		sess.AppendBot(analysisApology)
		res = FallbackAnalysis()
	}
	sess.AppendAnalysis(res)
	if b, merr := json.Marshal(res); merr == nil {
		sess.SetField(models.FieldAnalysis, string(b))
	}
	return nil
}

// FallbackAnalysis is the canned result substituted when image analysis is
// unavailable or fails.
func FallbackAnalysis() *models.AnalysisResult {
	return &models.AnalysisResult{
		Condition:       "We couldn't complete an automated review of your photo.",
		Severity:        "unknown",
		Recommendations: []string{"A clinician will look at your photo during your consultation."},
		Disclaimer:      models.AnalysisDisclaimer,
		Fallback:        true,
	}
}

// persistCreate creates the backing consultation record once contact details
// are in. It is idempotent: a session that already has a consultation id is
// left alone. Store failures are logged and swallowed.
func (e *Effects) persistCreate(ctx context.Context, sess *Session, _ string) error {
	if e.store == nil || sess.ConsultationID() != "" {
		return nil
	}
	fields := e.milestoneFields("create", sess)
	id, err := e.store.CreateConsultation(ctx, fields)
	if err != nil {
		slog.Error("Effects.persistCreate: failed to create consultation", "sessionID", sess.ID(), "error", err)
		return nil
	}
	sess.SetConsultationID(id)
	slog.Info("Effects.persistCreate: consultation created", "sessionID", sess.ID(), "consultationID", id)
	return nil
}

// persistPatch updates the consultation record with the fields of the named
// milestone. Sessions without a record, because creation failed or never
// ran, are skipped silently. Store failures are logged and swallowed.
func (e *Effects) persistPatch(ctx context.Context, sess *Session, milestone string) error {
	if e.store == nil {
		return nil
	}
	id := sess.ConsultationID()
	if id == "" {
		slog.Debug("Effects.persistPatch: no consultation record, skipping", "sessionID", sess.ID(), "milestone", milestone)
		return nil
	}
	fields := e.milestoneFields(milestone, sess)
	if milestone == "final" {
		fields[models.FieldTranscript] = sess.TranscriptJSON()
	}
	if len(fields) == 0 {
		return nil
	}
	if err := e.store.PatchConsultation(ctx, id, fields); err != nil {
		slog.Error("Effects.persistPatch: failed to patch consultation", "sessionID", sess.ID(), "consultationID", id, "milestone", milestone, "error", err)
	}
	return nil
}

// complete closes out a finished intake: marks the consultation completed,
// forwards it to the clinic portal, and notifies staff. Every leg is
// best-effort.
func (e *Effects) complete(ctx context.Context, sess *Session, _ string) error {
	id := sess.ConsultationID()
	if id == "" {
		slog.Debug("Effects.complete: no consultation record, skipping", "sessionID", sess.ID())
		return nil
	}
	if e.store != nil {
		if err := e.store.SetConsultationStatus(ctx, id, models.ConsultationStatusCompleted); err != nil {
			slog.Error("Effects.complete: failed to mark consultation completed", "consultationID", id, "error", err)
		}
	}
	fields := models.ConsultationFields(sess.Fields())
	if e.portal != nil {
		if err := e.portal.Forward(ctx, id, fields); err != nil {
			slog.Error("Effects.complete: portal forward failed", "consultationID", id, "error", err)
		}
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyConsultation(ctx, id, fields); err != nil {
			slog.Error("Effects.complete: clinic notification failed", "consultationID", id, "error", err)
		}
	}
	return nil
}

// milestoneFields collects the subset of session data named by a milestone.
// Fields not yet collected are left out of the result.
func (e *Effects) milestoneFields(milestone string, sess *Session) models.ConsultationFields {
	out := make(models.ConsultationFields)
	for _, name := range e.milestones[milestone] {
		if v := sess.Field(name); v != "" {
			out[name] = v
		}
	}
	return out
}
