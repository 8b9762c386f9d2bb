// Package export renders consultation records as CSV for clinic staff.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

// header lists the CSV columns in output order.
var header = []string{
	"id", "status", "created_at", "updated_at",
	"name", "phone", "email", "concern", "narrative", "triage", "survey_outcome", "channel",
}

// WriteCSV streams consultations to w as CSV, one row per record. Image
// payloads, analysis JSON, and transcripts are deliberately omitted; they
// belong in the portal, not a spreadsheet.
func WriteCSV(w io.Writer, consultations []models.Consultation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, c := range consultations {
		row := []string{
			c.ID,
			string(c.Status),
			c.CreatedAt.UTC().Format(time.RFC3339),
			c.UpdatedAt.UTC().Format(time.RFC3339),
			c.Fields[models.FieldName],
			c.Fields[models.FieldPhone],
			c.Fields[models.FieldEmail],
			c.Fields[models.FieldConcern],
			c.Fields[models.FieldNarrative],
			c.Fields[models.FieldTriage],
			c.Fields[models.FieldSurveyOutcome],
			c.Fields[models.FieldChannel],
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row for %s: %w", c.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}
