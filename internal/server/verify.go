package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log"
	"net/http"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/invigil-ai/invigil/internal/engine"
)

// maxRequestBodyBytes caps uploads when the config leaves it unset.
const maxRequestBodyBytes = 8 << 20

type verifyJSONRequest struct {
	ImageB64    string `json:"image_b64"`
	IncludeGaze bool   `json:"include_gaze"`
}

// handleVerifyFrame accepts one webcam frame, either as a multipart
// upload under the "image" field or as JSON {image_b64, include_gaze},
// and returns the engine's verdict.
func (s *Server) handleVerifyFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	limit := s.cfg.Server.MaxRequestBodyBytes
	if limit <= 0 {
		limit = maxRequestBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	img, opts, ok := s.decodeFrame(w, r)
	if !ok {
		return
	}

	result, err := s.engine.VerifyFrame(r.Context(), caller.ID, img, opts)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrExtractorUnavailable):
			writeAPIError(w, http.StatusServiceUnavailable, "extractor unavailable", "extractor_error")
		default:
			log.Printf("verify frame: %v", err)
			writeAPIError(w, http.StatusInternalServerError, "verification failed", "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decodeFrame extracts the image and options from either request shape.
// It writes the 400 itself when the payload is unusable.
func (s *Server) decodeFrame(w http.ResponseWriter, r *http.Request) (image.Image, engine.Options, bool) {
	var opts engine.Options

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxRequestBodyBytes); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid multipart body", "input_error")
			return nil, opts, false
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "missing image field", "input_error")
			return nil, opts, false
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "could not read image", "input_error")
			return nil, opts, false
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "could not decode image", "input_error")
			return nil, opts, false
		}
		opts.IncludeGaze = r.FormValue("include_gaze") == "true"
		return img, opts, true
	}

	var body verifyJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body", "input_error")
		return nil, opts, false
	}
	if body.ImageB64 == "" {
		writeAPIError(w, http.StatusBadRequest, "missing image_b64", "input_error")
		return nil, opts, false
	}
	data, err := base64.StdEncoding.DecodeString(body.ImageB64)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "image_b64 is not valid base64", "input_error")
		return nil, opts, false
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "could not decode image", "input_error")
		return nil, opts, false
	}
	opts.IncludeGaze = body.IncludeGaze
	return img, opts, true
}
