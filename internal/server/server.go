// Package server is the HTTP boundary: Bearer-key auth, typed JSON
// request/response shapes, and routing into the decision engine, the
// session manager, and the report projections.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/invigil-ai/invigil/internal/auth"
	"github.com/invigil-ai/invigil/internal/config"
	"github.com/invigil-ai/invigil/internal/engine"
	"github.com/invigil-ai/invigil/internal/gallery"
	"github.com/invigil-ai/invigil/internal/ledger"
	"github.com/invigil-ai/invigil/internal/session"
	"github.com/invigil-ai/invigil/internal/signal"
)

// Server wraps the HTTP components.
type Server struct {
	mux       *http.ServeMux
	cfg       *config.Config
	auth      *auth.Auth
	engine    *engine.Engine
	sessions  *session.Manager
	store     ledger.Store
	gallery   *gallery.Store
	extractor signal.Extractor
}

// New wires the routes. All components are constructed by the caller so
// tests can substitute fakes.
func New(cfg *config.Config, authz *auth.Auth, eng *engine.Engine, sessions *session.Manager, store ledger.Store, gal *gallery.Store, ex signal.Extractor) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		cfg:       cfg,
		auth:      authz,
		engine:    eng,
		sessions:  sessions,
		store:     store,
		gallery:   gal,
		extractor: ex,
	}

	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/v1/frames/verify", s.handleVerifyFrame)
	s.mux.HandleFunc("/v1/sessions/start", s.handleSessionStart)
	s.mux.HandleFunc("/v1/sessions/end", s.handleSessionEnd)
	s.mux.HandleFunc("/v1/sessions/", s.handleSessionSubresource)
	s.mux.HandleFunc("/v1/violations", s.handleViolationLog)
	s.mux.HandleFunc("/v1/reports/sessions/", s.handleSessionReport)
	s.mux.HandleFunc("/v1/reports/aggregate", s.handleAggregateReport)
	s.mux.HandleFunc("/v1/enrollment/reload", s.handleEnrollmentReload)

	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	log.Printf("Invigil running on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

// authenticate resolves the Bearer key to a caller, writing the 401
// itself on failure.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (auth.Caller, bool) {
	apiKey, ok := parseBearerToken(r.Header.Get("Authorization"))
	if !ok || apiKey == "" {
		writeAPIError(w, http.StatusUnauthorized, "Invalid or missing API key", "authentication_error")
		return auth.Caller{}, false
	}
	caller, ok := s.auth.Lookup(apiKey)
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "Invalid API key", "authentication_error")
		return auth.Caller{}, false
	}
	return caller, true
}

// parseBearerToken extracts the token from an Authorization: Bearer header.
func parseBearerToken(h string) (string, bool) {
	if h == "" {
		return "", false
	}
	parts := strings.Fields(h)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

type apiErrorBody struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeAPIError writes the error JSON envelope.
func writeAPIError(w http.ResponseWriter, status int, message, typ string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErrorBody{
		Error: apiErrorDetail{
			Message: message,
			Type:    typ,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}
