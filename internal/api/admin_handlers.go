// Package api provides the admin HTTP handlers for clinic staff.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/export"
	"github.com/DermaBridge/IntakeFlow/internal/models"
)

func (s *Server) listConsultationsHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Consultation store not configured"))
		return
	}
	consultations, err := s.store.ListConsultations(r.Context())
	if err != nil {
		slog.Error("Server.listConsultationsHandler: failed to list consultations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list consultations"))
		return
	}
	slog.Debug("Server.listConsultationsHandler: listed consultations", "count", len(consultations))
	writeJSONResponse(w, http.StatusOK, models.Success(consultations))
}

func (s *Server) exportConsultationsHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Consultation store not configured"))
		return
	}
	consultations, err := s.store.ListConsultations(r.Context())
	if err != nil {
		slog.Error("Server.exportConsultationsHandler: failed to list consultations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to export consultations"))
		return
	}

	filename := fmt.Sprintf("consultations-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	if err := export.WriteCSV(w, consultations); err != nil {
		// Headers are already out; all we can do is log.
		slog.Error("Server.exportConsultationsHandler: failed to write CSV", "error", err)
		return
	}
	slog.Info("Server.exportConsultationsHandler: exported consultations", "count", len(consultations))
}
