// Package models defines consultation record types shared across modules.
package models

import "time"

// Field name constants for consultation records. These are the business
// fields the flow engine binds step answers to and the store persists.
const (
	FieldName          = "name"
	FieldPhone         = "phone"
	FieldEmail         = "email"
	FieldConcern       = "concern"
	FieldNarrative     = "narrative"
	FieldImage         = "image"
	FieldAnalysis      = "analysis"
	FieldTriage        = "triage"
	FieldSurveyOutcome = "survey_outcome"
	FieldTranscript    = "transcript"
	FieldChannel       = "channel"
)

// ConsultationFields is the flat field projection flushed to the store.
// Values are strings or JSON-encoded structures keyed by the Field*
// constants above.
type ConsultationFields map[string]string

// Clone returns a shallow copy so callers can mutate without aliasing.
func (f ConsultationFields) Clone() ConsultationFields {
	out := make(ConsultationFields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ConsultationStatus represents the lifecycle state of a consultation record.
type ConsultationStatus string

const (
	// ConsultationStatusOpen indicates the intake conversation is in progress.
	ConsultationStatusOpen ConsultationStatus = "open"
	// ConsultationStatusCompleted indicates the flow reached a terminal step.
	ConsultationStatusCompleted ConsultationStatus = "completed"
	// ConsultationStatusAbandoned indicates the visitor never finished.
	ConsultationStatusAbandoned ConsultationStatus = "abandoned"
)

// Consultation is the durable projection of a completed (or in-progress)
// intake session. The store owns the durable copy; the flow runtime owns the
// in-memory session data until flushed.
type Consultation struct {
	ID        string             `json:"id"`
	Status    ConsultationStatus `json:"status"`
	Fields    ConsultationFields `json:"fields"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}
