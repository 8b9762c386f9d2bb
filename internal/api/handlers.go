// Package api provides HTTP handlers for the IntakeFlow widget endpoints.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DermaBridge/IntakeFlow/internal/flow"
	"github.com/DermaBridge/IntakeFlow/internal/models"
	"github.com/DermaBridge/IntakeFlow/internal/settings"
)

// createSessionRequest is the optional body for session creation.
type createSessionRequest struct {
	Channel string `json:"channel,omitempty"`
}

// inputRequest carries a visitor's text or option answer.
type inputRequest struct {
	Value string `json:"value"`
}

// imageRequest carries a base64-encoded photo upload.
type imageRequest struct {
	ImageBase64 string `json:"image_base64"`
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.createSessionHandler: starting session")

	var req createSessionRequest
	// An empty or malformed body is fine; the widget may send nothing at all.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = createSessionRequest{}
	}
	if req.Channel == "" {
		req.Channel = "widget"
	}

	rt, err := s.sessions.Start(r.Context(), flow.WithChannel(req.Channel))
	if err != nil {
		slog.Error("Server.createSessionHandler: failed to start session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start session"))
		return
	}
	slog.Info("Server.createSessionHandler: session started", "sessionID", rt.SessionID(), "channel", req.Channel)
	writeJSONResponse(w, http.StatusCreated, models.Success(rt.View()))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	rt, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rt.View()))
}

func (s *Server) submitInputHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rt, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.submitInputHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.finishTurn(w, r, rt, rt.SubmitInput(r.Context(), req.Value))
}

func (s *Server) selectOptionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rt, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.selectOptionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.finishTurn(w, r, rt, rt.SelectOption(r.Context(), req.Value))
}

func (s *Server) uploadImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rt, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	// Base64 inflates the payload by a third over the decoded limit.
	r.Body = http.MaxBytesReader(w, r.Body, models.MaxImagePayloadBytes*2)
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.uploadImageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid base64 image payload"))
		return
	}
	s.finishTurn(w, r, rt, rt.SubmitImage(r.Context(), payload))
}

// finishTurn maps a transition outcome to an HTTP response. A validation
// rejection is a normal conversational turn: the error message is already in
// the transcript, so the widget just rerenders the view.
func (s *Server) finishTurn(w http.ResponseWriter, r *http.Request, rt *flow.Runtime, err error) {
	switch {
	case err == nil, errors.Is(err, models.ErrInputRejected):
		writeJSONResponse(w, http.StatusOK, models.Success(rt.View()))
	case errors.Is(err, models.ErrSessionEnded):
		writeJSONResponse(w, http.StatusConflict, models.Error("Session has ended"))
	case errors.Is(err, models.ErrTransitionInFlight):
		writeJSONResponse(w, http.StatusConflict, models.Error("A transition is already in flight"))
	case errors.Is(err, models.ErrEmptyImagePayload):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Image payload cannot be empty"))
	case errors.Is(err, models.ErrImageTooLarge):
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Image payload exceeds maximum size"))
	default:
		slog.Error("Server.finishTurn: transition failed", "sessionID", rt.SessionID(), "path", r.URL.Path, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process input"))
	}
}

func (s *Server) widgetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var ws models.WidgetSettings
	if s.settings != nil {
		ws = s.settings.Get(r.Context())
	} else {
		ws = settings.Defaults()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ws))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
