package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/invigil-ai/invigil/internal/ledger"
	"github.com/invigil-ai/invigil/internal/report"
)

// handleSessionReport serves GET /v1/reports/sessions/{id}.
func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/v1/reports/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.NotFound(w, r)
		return
	}

	summary, err := report.BuildSessionSummary(r.Context(), s.store, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrSessionNotFound):
			writeAPIError(w, http.StatusNotFound, "session not found", "not_found")
		default:
			log.Printf("session report: %v", err)
			writeAPIError(w, http.StatusInternalServerError, "could not build report", "storage_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleAggregateReport serves GET /v1/reports/aggregate?group_by=...&session_id=...
func (s *Server) handleAggregateReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	groupBy := ledger.GroupBy(r.URL.Query().Get("group_by"))
	if !groupBy.Valid() {
		writeAPIError(w, http.StatusBadRequest, "group_by must be type, severity, or date", "input_error")
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	buckets, err := report.Aggregate(r.Context(), s.store, sessionID, groupBy)
	if err != nil {
		log.Printf("aggregate report: %v", err)
		writeAPIError(w, http.StatusInternalServerError, "could not aggregate violations", "storage_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group_by": groupBy,
		"buckets":  buckets,
	})
}
