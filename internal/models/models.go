// Package models defines the core data structures for IntakeFlow.
//
// It includes types for conversation transcripts, step metadata exposed to
// embedding widgets, and image analysis payloads shared across modules.
package models

import (
	"errors"
	"time"
)

// InputKind determines what UI affordance and validator applies to a step.
type InputKind string

const (
	// InputNone marks an informational step that auto-advances.
	InputNone InputKind = "none"
	// InputShortText collects a single-line free text answer.
	InputShortText InputKind = "short_text"
	// InputLongText collects a multi-line free text answer.
	InputLongText InputKind = "long_text"
	// InputPhone collects a phone number.
	InputPhone InputKind = "phone"
	// InputEmail collects an email address.
	InputEmail InputKind = "email"
	// InputOptionChoice collects one value from a fixed option list.
	InputOptionChoice InputKind = "option_choice"
	// InputImage collects an image payload (base64).
	InputImage InputKind = "image"
)

// IsValidInputKind checks if the given input kind is supported.
func IsValidInputKind(k InputKind) bool {
	switch k {
	case InputNone, InputShortText, InputLongText, InputPhone, InputEmail, InputOptionChoice, InputImage:
		return true
	default:
		return false
	}
}

// Validation constants for user input.
const (
	// MaxInputLength defines the maximum allowed length for a text answer.
	MaxInputLength = 4096
	// MaxImagePayloadBytes defines the maximum allowed decoded image size.
	MaxImagePayloadBytes = 8 << 20
	// MinPhoneDigits defines the minimum digit count for the loose phone check.
	MinPhoneDigits = 7
)

// Error variables for better error handling and testability.
var (
	ErrUnknownStep        = errors.New("unknown step id")
	ErrSessionEnded       = errors.New("session has ended")
	ErrSessionNotFound    = errors.New("session not found")
	ErrTransitionInFlight = errors.New("a transition is already in flight")
	ErrInputRejected      = errors.New("input rejected by validation")
	ErrInputTooLong       = errors.New("input exceeds maximum length")
	ErrEmptyImagePayload  = errors.New("image payload cannot be empty")
	ErrImageTooLarge      = errors.New("image payload exceeds maximum size")
	ErrNoConsultation     = errors.New("no consultation record exists yet")
)

// StepOption represents a selectable option for option-choice steps.
type StepOption struct {
	Label string `json:"label"` // text shown to the visitor
	Value string `json:"value"` // value submitted when selected
}

// EntryKind identifies who (or what) produced a transcript entry.
type EntryKind string

const (
	// EntryBot is a message emitted by the intake bot.
	EntryBot EntryKind = "bot"
	// EntryUser is an answer submitted by the visitor.
	EntryUser EntryKind = "user"
	// EntryAnalysis carries a structured image analysis payload.
	EntryAnalysis EntryKind = "analysis"
)

// TranscriptEntry is one element of the append-only session transcript.
type TranscriptEntry struct {
	Kind     EntryKind       `json:"kind"`
	Body     string          `json:"body,omitempty"`
	Analysis *AnalysisResult `json:"analysis,omitempty"`
	Time     time.Time       `json:"time"`
}

// AnalysisDisclaimer accompanies every analysis result shown to a patient.
const AnalysisDisclaimer = "This is a preliminary automated look, not a diagnosis. A clinician will review your case."

// AnalysisResult is the structured outcome of an image analysis call.
type AnalysisResult struct {
	Condition       string   `json:"condition"`
	Severity        string   `json:"severity"`
	Recommendations []string `json:"recommendations"`
	Disclaimer      string   `json:"disclaimer"`
	Fallback        bool     `json:"fallback,omitempty"` // true when substituted after a failure or timeout
}

// StepMetadata describes the current step to an embedding surface so it can
// render the right input affordance.
type StepMetadata struct {
	StepID    string       `json:"step_id"`
	InputKind InputKind    `json:"input_kind"`
	Options   []StepOption `json:"options,omitempty"`
	Disabled  bool         `json:"disabled"` // true while a transition is in flight
	Terminal  bool         `json:"terminal"`
}

// SessionView is the read-only projection of a session exposed over the API.
type SessionView struct {
	SessionID  string            `json:"session_id"`
	Transcript []TranscriptEntry `json:"transcript"`
	Step       StepMetadata      `json:"step"`
}

// WidgetSettings holds the client-configurable widget presentation values.
type WidgetSettings struct {
	WelcomeMessage string `json:"welcome_message"`
	BotDisplayName string `json:"bot_display_name"`
	CTALabel       string `json:"cta_label"`
	Tone           string `json:"tone"`
}
