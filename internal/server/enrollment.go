package server

import (
	"log"
	"net/http"

	"github.com/invigil-ai/invigil/internal/gallery"
)

// handleEnrollmentReload rebuilds the gallery from the enrollment
// directory and atomically swaps it in. In-flight verifications keep
// the snapshot they started with.
func (s *Server) handleEnrollmentReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if s.extractor == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "extractor unavailable", "extractor_error")
		return
	}

	snap, loadReport, err := gallery.LoadDir(r.Context(), s.cfg.Enrollment.Dir, s.extractor)
	if err != nil {
		log.Printf("enrollment reload: %v", err)
		writeAPIError(w, http.StatusInternalServerError, "could not reload enrollment", "enrollment_error")
		return
	}
	s.gallery.Publish(snap)

	writeJSON(w, http.StatusOK, loadReport)
}
