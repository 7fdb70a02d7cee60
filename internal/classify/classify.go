package classify

import (
	"fmt"

	"github.com/invigil-ai/invigil/internal/match"
	"github.com/invigil-ai/invigil/internal/signal"
)

// Type names one violation category. The taxonomy is fixed.
type Type string

const (
	TypeNoFace           Type = "no_face"
	TypeMultipleFaces    Type = "multiple_faces"
	TypeUnverified       Type = "unverified"
	TypeSuspiciousObject Type = "suspicious_object"
	TypeEyesNotDetected  Type = "eyes_not_detected"
	TypeDistracted       Type = "distracted"
	TypePartialAttention Type = "partial_attention"
)

// severities maps each type to its fixed severity (1 low .. 4 critical).
var severities = map[Type]int{
	TypeNoFace:           3,
	TypeMultipleFaces:    4,
	TypeUnverified:       4,
	TypeSuspiciousObject: 3,
	TypeEyesNotDetected:  2,
	TypeDistracted:       3,
	TypePartialAttention: 2,
}

// Valid reports whether t is in the taxonomy.
func (t Type) Valid() bool {
	_, ok := severities[t]
	return ok
}

// Severity returns the fixed severity for a taxonomy type, or 0 for an
// unknown type.
func (t Type) Severity() int {
	return severities[t]
}

// Pending is a classified violation not yet attributed to a session.
type Pending struct {
	Type     Type
	Details  string
	Severity int
}

// Options carries the tunables the classifier consumes.
type Options struct {
	// ObjectAreaFloor is the minimum pixel area for a rectangular region
	// to count as suspicious.
	ObjectAreaFloor int
	// IncludeGaze enables the eye/attention pass; it only applies when
	// exactly one face is present.
	IncludeGaze bool
}

// DefaultObjectAreaFloor is the pixel-area floor for rectangle findings.
const DefaultObjectAreaFloor = 4000

// Gaze status values.
const (
	GazeFocused          = "focused"
	GazePartiallyFocused = "partially_focused"
	GazeDistracted       = "distracted"
)

// GazeAssessment is the deterministic attention estimate for one frame.
type GazeAssessment struct {
	Score     int    `json:"score"`
	Status    string `json:"status"`
	EyesFound int    `json:"eyes_found"`
}

// QualityAssessment is the informational capture-quality report. It feeds
// verification responses and violation context but is never a violation
// by itself.
type QualityAssessment struct {
	Score      int      `json:"score"` // 0..100
	Brightness float64  `json:"brightness"`
	Sharpness  float64  `json:"sharpness"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Issues     []string `json:"issues,omitempty"`
}

// Quality thresholds. Fixed by design; the recognition threshold is the
// only tunable in the pipeline.
const (
	brightnessFloor = 50
	brightnessCeil  = 200
	sharpnessFloor  = 100
	minWidth        = 640
	minHeight       = 480
)

// Classify maps a signal bundle plus the identity-match outcome to zero or
// more violations. "No violation" is the empty slice, never an error.
func Classify(bundle *signal.Bundle, matchResult match.Result, opts Options) []Pending {
	out := []Pending{}

	if v := evaluatePresence(bundle, matchResult); v != nil {
		out = append(out, *v)
	}
	if v := evaluateObjects(bundle.Objects, opts.ObjectAreaFloor); v != nil {
		out = append(out, *v)
	}
	if opts.IncludeGaze && bundle.FaceCount() == 1 {
		out = append(out, evaluateGaze(bundle.Eyes, bundle.Faces[0].Box)...)
	}

	return out
}

// evaluatePresence covers the face-count and identity categories. Identity
// is only judged when exactly one face is present.
func evaluatePresence(bundle *signal.Bundle, matchResult match.Result) *Pending {
	switch n := bundle.FaceCount(); {
	case n == 0:
		return &Pending{
			Type:     TypeNoFace,
			Details:  "no face detected in frame",
			Severity: TypeNoFace.Severity(),
		}
	case n > 1:
		return &Pending{
			Type:     TypeMultipleFaces,
			Details:  fmt.Sprintf("%d faces detected in frame", n),
			Severity: TypeMultipleFaces.Severity(),
		}
	case !matchResult.Matched:
		return &Pending{
			Type:     TypeUnverified,
			Details:  "face does not match any enrolled candidate",
			Severity: TypeUnverified.Severity(),
		}
	}
	return nil
}

// evaluateObjects fires when more than two large rectangular regions are
// present, or the phone-shape detector hit at all.
func evaluateObjects(objects []signal.ObjectFinding, areaFloor int) *Pending {
	if areaFloor <= 0 {
		areaFloor = DefaultObjectAreaFloor
	}

	rects := 0
	for _, o := range objects {
		switch o.Label {
		case "phone":
			return &Pending{
				Type:     TypeSuspiciousObject,
				Details:  "phone-like object detected",
				Severity: TypeSuspiciousObject.Severity(),
			}
		case "rectangle":
			if o.Area > areaFloor {
				rects++
			}
		}
	}
	if rects > 2 {
		return &Pending{
			Type:     TypeSuspiciousObject,
			Details:  fmt.Sprintf("%d large rectangular regions detected", rects),
			Severity: TypeSuspiciousObject.Severity(),
		}
	}
	return nil
}

func evaluateGaze(eyes []signal.Box, face signal.Box) []Pending {
	out := []Pending{}
	gaze := AssessGaze(eyes, face)

	if gaze.EyesFound < 2 {
		out = append(out, Pending{
			Type:     TypeEyesNotDetected,
			Details:  fmt.Sprintf("%d eye regions found, want 2", gaze.EyesFound),
			Severity: TypeEyesNotDetected.Severity(),
		})
	}

	switch gaze.Status {
	case GazeDistracted:
		out = append(out, Pending{
			Type:     TypeDistracted,
			Details:  fmt.Sprintf("gaze score %d below 40", gaze.Score),
			Severity: TypeDistracted.Severity(),
		})
	case GazePartiallyFocused:
		out = append(out, Pending{
			Type:     TypePartialAttention,
			Details:  fmt.Sprintf("gaze score %d below 70", gaze.Score),
			Severity: TypePartialAttention.Severity(),
		})
	}

	return out
}

// AssessGaze computes the additive gaze score: +50 when both eyes sit
// inside the face region, +30 more when the eye centers' horizontal
// separation is plausible for forward gaze (30..80 units), +20 instead
// when exactly one eye was found. The score is reproducible bit-for-bit
// from the same detector outputs.
func AssessGaze(eyes []signal.Box, face signal.Box) GazeAssessment {
	eyesInFace := make([]signal.Box, 0, len(eyes))
	for _, e := range eyes {
		if face.Contains(e) {
			eyesInFace = append(eyesInFace, e)
		}
	}

	score := 0
	switch {
	case len(eyesInFace) >= 2:
		score += 50
		sep := eyesInFace[0].CenterX() - eyesInFace[1].CenterX()
		if sep < 0 {
			sep = -sep
		}
		if sep >= 30 && sep <= 80 {
			score += 30
		}
	case len(eyesInFace) == 1:
		score += 20
	}

	return GazeAssessment{
		Score:     score,
		Status:    gazeStatus(score),
		EyesFound: len(eyesInFace),
	}
}

func gazeStatus(score int) string {
	switch {
	case score >= 70:
		return GazeFocused
	case score >= 40:
		return GazePartiallyFocused
	default:
		return GazeDistracted
	}
}

// AssessQuality scores capture quality: 30 points for acceptable
// brightness, 40 for sharpness, 30 for resolution.
func AssessQuality(m signal.Metrics) QualityAssessment {
	q := QualityAssessment{
		Brightness: m.Brightness,
		Sharpness:  m.Sharpness,
		Width:      m.Width,
		Height:     m.Height,
	}

	switch {
	case m.Brightness < brightnessFloor:
		q.Issues = append(q.Issues, "too dark")
	case m.Brightness > brightnessCeil:
		q.Issues = append(q.Issues, "too bright")
	default:
		q.Score += 30
	}

	if m.Sharpness < sharpnessFloor {
		q.Issues = append(q.Issues, "blurry")
	} else {
		q.Score += 40
	}

	if m.Width < minWidth || m.Height < minHeight {
		q.Issues = append(q.Issues, "low resolution")
	} else {
		q.Score += 30
	}

	return q
}
