// Package api exposes the HTTP surface consumed by the embeddable intake
// widget, plus a thin admin surface for clinic staff.
//
// Widget endpoints drive one conversation session per visitor; admin
// endpoints list and export finished consultations.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/session"
	"github.com/DermaBridge/IntakeFlow/internal/settings"
	"github.com/DermaBridge/IntakeFlow/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string // listen address
	AllowOrigin string // CORS origin allowed to embed the widget
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address, falling back to the API_ADDR
// environment variable.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		if addr == "" {
			addr = os.Getenv("API_ADDR")
		}
		o.Addr = addr
	}
}

// WithAllowOrigin sets the CORS origin allowed to call the widget
// endpoints, falling back to the WIDGET_ALLOW_ORIGIN environment variable.
// An empty value allows any origin, which suits a widget embedded on
// arbitrary clinic sites.
func WithAllowOrigin(origin string) Option {
	return func(o *Opts) {
		if origin == "" {
			origin = os.Getenv("WIDGET_ALLOW_ORIGIN")
		}
		o.AllowOrigin = origin
	}
}

// Server hosts the widget and admin HTTP endpoints.
type Server struct {
	addr        string
	allowOrigin string
	sessions    *session.Manager
	store       store.Store
	settings    *settings.Provider
	httpServer  *http.Server
}

// NewServer creates an API server over the given collaborators. The store
// and settings provider may be nil; the corresponding endpoints then report
// service unavailable or defaults.
func NewServer(sessions *session.Manager, st store.Store, sp *settings.Provider, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if o.AllowOrigin == "" {
		o.AllowOrigin = "*"
	}
	return &Server{
		addr:        o.Addr,
		allowOrigin: o.AllowOrigin,
		sessions:    sessions,
		store:       st,
		settings:    sp,
	}
}

// routes builds the request multiplexer for all endpoints.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", s.createSessionHandler)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("POST /api/v1/sessions/{id}/input", s.submitInputHandler)
	mux.HandleFunc("POST /api/v1/sessions/{id}/option", s.selectOptionHandler)
	mux.HandleFunc("POST /api/v1/sessions/{id}/image", s.uploadImageHandler)
	mux.HandleFunc("GET /api/v1/widget/settings", s.widgetSettingsHandler)
	mux.HandleFunc("GET /api/v1/consultations", s.listConsultationsHandler)
	mux.HandleFunc("GET /api/v1/consultations/export", s.exportConsultationsHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("OPTIONS /", s.preflightHandler)
	return mux
}

// Handler returns the fully wired HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.routes())
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	slog.Info("Server.Run: API server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("Server.Shutdown: stopping API server")
	return s.httpServer.Shutdown(ctx)
}

// withCORS adds the headers that let clinic sites embed the widget
// cross-origin.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) preflightHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
