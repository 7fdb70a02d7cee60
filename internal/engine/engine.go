// Package engine composes signal extraction, identity matching,
// violation classification, and the audit ledger into the per-frame
// decision pass. One frame in, one verdict plus zero or more persisted
// violations out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/invigil-ai/invigil/internal/alert"
	"github.com/invigil-ai/invigil/internal/classify"
	"github.com/invigil-ai/invigil/internal/gallery"
	"github.com/invigil-ai/invigil/internal/ledger"
	"github.com/invigil-ai/invigil/internal/match"
	"github.com/invigil-ai/invigil/internal/session"
	"github.com/invigil-ai/invigil/internal/signal"
	"github.com/invigil-ai/invigil/internal/telemetry"
)

// Verdict statuses for a verified frame.
const (
	StatusVerified      = "verified"
	StatusUnverified    = "unverified"
	StatusNoFace        = "no_face"
	StatusMultipleFaces = "multiple_faces"
)

// ErrExtractorUnavailable is returned when the server runs without a
// configured extractor. It is an input-path error, not a crash.
var ErrExtractorUnavailable = errors.New("extractor unavailable")

// ErrUnknownViolationType rejects violation logs outside the taxonomy.
var ErrUnknownViolationType = errors.New("unknown violation type")

// Options tunes one verification pass.
type Options struct {
	// IncludeGaze enables the eye/attention analysis. It only applies
	// when exactly one face is present.
	IncludeGaze bool
}

// RecordedViolation is a violation appended to the ledger during a pass.
type RecordedViolation struct {
	ID       string `json:"violation_id"`
	Type     string `json:"type"`
	Details  string `json:"details"`
	Severity int    `json:"severity"`
}

// Analysis carries the per-frame detail alongside the verdict.
type Analysis struct {
	Gaze       *classify.GazeAssessment   `json:"gaze,omitempty"`
	Quality    classify.QualityAssessment `json:"quality"`
	Objects    []signal.ObjectFinding     `json:"objects,omitempty"`
	Violations []RecordedViolation        `json:"violations,omitempty"`
}

// Result is one frame's verdict.
type Result struct {
	Status     string    `json:"status"`
	Name       string    `json:"name,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	FaceCount  int       `json:"face_count"`
	SessionID  string    `json:"session_id,omitempty"`
	Analysis   *Analysis `json:"analysis,omitempty"`
}

// Engine is the decision core. All fields are set at construction and
// never mutated, so concurrent frame passes need no locking beyond what
// the components take themselves.
type Engine struct {
	extractor signal.Extractor
	gallery   *gallery.Store
	store     ledger.Store
	sessions  *session.Manager
	alerts    *alert.Emitter
	tel       *telemetry.Provider
	evidence  *EvidenceStore

	threshold float64
	areaFloor int
}

// Config collects the engine's construction parameters.
type Config struct {
	Extractor      signal.Extractor // nil means verification is disabled
	Gallery        *gallery.Store
	Store          ledger.Store
	Sessions       *session.Manager
	Alerts         *alert.Emitter      // optional
	Telemetry      *telemetry.Provider // optional
	Evidence       *EvidenceStore      // optional
	MatchThreshold float64
	AreaFloor      int
}

// New builds an engine. Zero tunables fall back to the package defaults.
func New(cfg Config) *Engine {
	threshold := cfg.MatchThreshold
	if threshold <= 0 {
		threshold = match.DefaultThreshold
	}
	areaFloor := cfg.AreaFloor
	if areaFloor <= 0 {
		areaFloor = classify.DefaultObjectAreaFloor
	}
	return &Engine{
		extractor: cfg.Extractor,
		gallery:   cfg.Gallery,
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		alerts:    cfg.Alerts,
		tel:       cfg.Telemetry,
		evidence:  cfg.Evidence,
		threshold: threshold,
		areaFloor: areaFloor,
	}
}

// VerifyFrame runs the full pass over one frame: capture metrics, face
// extraction, object detection, identity match (single face only), gaze
// when requested, classification, and synchronous persistence of every
// classified violation under the caller's session scope. A ledger write
// failure is returned to the caller; the verdict built so far comes back
// with it.
func (e *Engine) VerifyFrame(ctx context.Context, caller string, img image.Image, opts Options) (*Result, error) {
	if e.extractor == nil {
		return nil, ErrExtractorUnavailable
	}

	start := time.Now()

	extractStart := time.Now()
	bundle := &signal.Bundle{Metrics: e.extractor.Metrics(img)}

	faces, err := e.extractor.ExtractFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("extract faces: %w", err)
	}
	bundle.Faces = faces

	objects, err := e.extractor.DetectObjects(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect objects: %w", err)
	}
	bundle.Objects = objects

	matchResult := match.NoMatch
	var gaze *classify.GazeAssessment
	if len(faces) == 1 {
		matchResult = match.Match(faces[0].Descriptor, e.gallery.Snapshot(), e.threshold)
		if opts.IncludeGaze {
			eyes, err := e.extractor.DetectEyes(ctx, img, faces[0].Box)
			if err != nil {
				return nil, fmt.Errorf("detect eyes: %w", err)
			}
			bundle.Eyes = eyes
			g := classify.AssessGaze(eyes, faces[0].Box)
			gaze = &g
		}
	}
	e.tel.RecordExtraction(ctx, time.Since(extractStart))

	pending := classify.Classify(bundle, matchResult, classify.Options{
		ObjectAreaFloor: e.areaFloor,
		IncludeGaze:     opts.IncludeGaze,
	})

	scope := e.sessions.Scope(caller)
	result := &Result{
		Status:    verdictStatus(len(faces), matchResult),
		FaceCount: len(faces),
		Analysis: &Analysis{
			Gaze:    gaze,
			Quality: classify.AssessQuality(bundle.Metrics),
			Objects: objects,
		},
	}
	if scope != ledger.SentinelScope {
		result.SessionID = scope
	}
	if matchResult.Matched {
		result.Name = matchResult.Identity
		result.Confidence = matchResult.Confidence
	}

	for _, p := range pending {
		rec, err := e.append(ctx, scope, string(p.Type), p.Details, p.Severity, "")
		if err != nil {
			e.tel.RecordFrame(ctx, result.Status, time.Since(start))
			return result, err
		}
		result.Analysis.Violations = append(result.Analysis.Violations, RecordedViolation{
			ID:       rec.ID,
			Type:     rec.Type,
			Details:  rec.Details,
			Severity: rec.Severity,
		})
	}

	e.tel.RecordFrame(ctx, result.Status, time.Since(start))
	return result, nil
}

// LogViolation records an externally reported violation under the
// caller's session scope. The type must be in the taxonomy; a
// non-positive severity falls back to the type's fixed severity.
// Optional evidence bytes are stored on disk and the path recorded on
// the row.
func (e *Engine) LogViolation(ctx context.Context, caller, vtype, details string, severity int, evidence []byte) (*ledger.Violation, error) {
	t := classify.Type(vtype)
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownViolationType, vtype)
	}
	if severity <= 0 {
		severity = t.Severity()
	}

	id := uuid.NewString()
	evidencePath := ""
	if len(evidence) > 0 && e.evidence != nil {
		path, err := e.evidence.Write(id, evidence)
		if err != nil {
			return nil, fmt.Errorf("store evidence: %w", err)
		}
		evidencePath = path
	}

	scope := e.sessions.Scope(caller)
	return e.appendWithID(ctx, id, scope, vtype, details, severity, evidencePath)
}

func (e *Engine) append(ctx context.Context, scope, vtype, details string, severity int, evidencePath string) (*ledger.Violation, error) {
	return e.appendWithID(ctx, uuid.NewString(), scope, vtype, details, severity, evidencePath)
}

func (e *Engine) appendWithID(ctx context.Context, id, scope, vtype, details string, severity int, evidencePath string) (*ledger.Violation, error) {
	v := &ledger.Violation{
		ID:           id,
		SessionID:    scope,
		Timestamp:    time.Now().UTC(),
		Type:         vtype,
		Details:      details,
		Severity:     severity,
		EvidencePath: evidencePath,
	}
	if err := e.store.AppendViolation(ctx, v); err != nil {
		return nil, fmt.Errorf("append violation: %w", err)
	}

	e.tel.RecordViolation(ctx, vtype, severity)
	if e.alerts != nil {
		e.alerts.Emit(ctx, &alert.Event{
			Version:     "1",
			Timestamp:   v.Timestamp,
			SessionID:   v.SessionID,
			ViolationID: v.ID,
			Type:        v.Type,
			Severity:    v.Severity,
			Details:     v.Details,
		})
	}
	return v, nil
}

func verdictStatus(faceCount int, m match.Result) string {
	switch {
	case faceCount == 0:
		return StatusNoFace
	case faceCount > 1:
		return StatusMultipleFaces
	case m.Matched:
		return StatusVerified
	default:
		return StatusUnverified
	}
}
