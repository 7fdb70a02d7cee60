package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/invigil-ai/invigil/internal/session"
)

type sessionStartRequest struct {
	StudentName string `json:"student_name"`
	ExamName    string `json:"exam_name"`
}

type sessionStartResponse struct {
	SessionID   string    `json:"session_id"`
	StudentName string    `json:"student_name"`
	ExamName    string    `json:"exam_name"`
	StartTime   time.Time `json:"start_time"`
	Status      string    `json:"status"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var body sessionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body", "input_error")
		return
	}
	if body.StudentName == "" || body.ExamName == "" {
		writeAPIError(w, http.StatusBadRequest, "student_name and exam_name are required", "input_error")
		return
	}

	sess, err := s.sessions.Start(r.Context(), caller.ID, body.StudentName, body.ExamName)
	if err != nil {
		log.Printf("start session: %v", err)
		writeAPIError(w, http.StatusInternalServerError, "could not start session", "storage_error")
		return
	}

	writeJSON(w, http.StatusOK, sessionStartResponse{
		SessionID:   sess.ID,
		StudentName: sess.StudentName,
		ExamName:    sess.ExamName,
		StartTime:   sess.StartTime,
		Status:      sess.Status,
	})
}

type sessionEndResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	id, err := s.sessions.End(r.Context(), caller.ID)
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		// A reported outcome, not a failure.
		writeJSON(w, http.StatusOK, sessionEndResponse{Status: "no_active_session"})
	case err != nil:
		log.Printf("end session: %v", err)
		writeAPIError(w, http.StatusInternalServerError, "could not end session", "storage_error")
	default:
		writeJSON(w, http.StatusOK, sessionEndResponse{Status: "completed", SessionID: id})
	}
}

// handleSessionSubresource serves GET /v1/sessions/{id}/violations.
func (s *Server) handleSessionSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "violations" {
		http.NotFound(w, r)
		return
	}
	sessionID := parts[0]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeAPIError(w, http.StatusBadRequest, "limit must be a non-negative integer", "input_error")
			return
		}
		limit = n
	}

	violations, err := s.store.QueryViolations(r.Context(), sessionID, limit)
	if err != nil {
		log.Printf("query violations: %v", err)
		writeAPIError(w, http.StatusInternalServerError, "could not query violations", "storage_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"violations": violations,
	})
}
