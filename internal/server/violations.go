package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/invigil-ai/invigil/internal/engine"
)

type violationLogRequest struct {
	Type        string `json:"type"`
	Details     string `json:"details"`
	Severity    int    `json:"severity,omitempty"`
	EvidenceB64 string `json:"evidence_b64,omitempty"`
}

// handleViolationLog records an externally observed violation (for
// example from a proctor UI) under the caller's active session.
func (s *Server) handleViolationLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var body violationLogRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body", "input_error")
		return
	}
	if body.Type == "" {
		writeAPIError(w, http.StatusBadRequest, "type is required", "input_error")
		return
	}

	var evidence []byte
	if body.EvidenceB64 != "" {
		data, err := base64.StdEncoding.DecodeString(body.EvidenceB64)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "evidence_b64 is not valid base64", "input_error")
			return
		}
		evidence = data
	}

	v, err := s.engine.LogViolation(r.Context(), caller.ID, body.Type, body.Details, body.Severity, evidence)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownViolationType):
			writeAPIError(w, http.StatusBadRequest, err.Error(), "input_error")
		default:
			log.Printf("log violation: %v", err)
			writeAPIError(w, http.StatusInternalServerError, "could not record violation", "storage_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, v)
}
