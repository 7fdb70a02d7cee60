package classify

import (
	"strings"
	"testing"

	"github.com/invigil-ai/invigil/internal/match"
	"github.com/invigil-ai/invigil/internal/signal"
)

func bundleWithFaces(n int) *signal.Bundle {
	b := &signal.Bundle{}
	for i := 0; i < n; i++ {
		b.Faces = append(b.Faces, signal.Face{
			Box: signal.Box{X: i * 100, Y: 0, Width: 80, Height: 80},
		})
	}
	return b
}

func TestSeverities(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{TypeNoFace, 3},
		{TypeMultipleFaces, 4},
		{TypeUnverified, 4},
		{TypeSuspiciousObject, 3},
		{TypeEyesNotDetected, 2},
		{TypeDistracted, 3},
		{TypePartialAttention, 2},
	}
	for _, tc := range tests {
		if got := tc.typ.Severity(); got != tc.want {
			t.Errorf("%s severity = %d, want %d", tc.typ, got, tc.want)
		}
		if !tc.typ.Valid() {
			t.Errorf("%s should be valid", tc.typ)
		}
	}
	if Type("tab_switch").Valid() {
		t.Error("unknown type reported valid")
	}
	if got := Type("tab_switch").Severity(); got != 0 {
		t.Errorf("unknown type severity = %d, want 0", got)
	}
}

func TestClassifyPresence(t *testing.T) {
	tests := []struct {
		name     string
		faces    int
		matched  bool
		wantType Type
	}{
		{"no face", 0, false, TypeNoFace},
		{"three faces", 3, false, TypeMultipleFaces},
		{"one face unmatched", 1, false, TypeUnverified},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := match.NoMatch
			if tc.matched {
				m = match.Result{Matched: true, Identity: "alice"}
			}
			got := Classify(bundleWithFaces(tc.faces), m, Options{})
			if len(got) != 1 {
				t.Fatalf("got %d violations, want 1: %+v", len(got), got)
			}
			if got[0].Type != tc.wantType {
				t.Errorf("type = %s, want %s", got[0].Type, tc.wantType)
			}
			if got[0].Severity != tc.wantType.Severity() {
				t.Errorf("severity = %d, want %d", got[0].Severity, tc.wantType.Severity())
			}
		})
	}
}

func TestClassifyVerifiedFaceIsClean(t *testing.T) {
	got := Classify(bundleWithFaces(1), match.Result{Matched: true, Identity: "alice"}, Options{})
	if len(got) != 0 {
		t.Errorf("verified frame produced violations: %+v", got)
	}
}

func TestClassifyMultipleFacesDetails(t *testing.T) {
	got := Classify(bundleWithFaces(3), match.NoMatch, Options{})
	if len(got) != 1 {
		t.Fatalf("got %d violations, want 1", len(got))
	}
	if !strings.Contains(got[0].Details, "3 faces") {
		t.Errorf("details = %q, want face count mentioned", got[0].Details)
	}
}

func TestClassifyObjects(t *testing.T) {
	rect := func(area int) signal.ObjectFinding {
		return signal.ObjectFinding{Label: "rectangle", Area: area}
	}

	tests := []struct {
		name    string
		objects []signal.ObjectFinding
		want    bool
	}{
		{"phone fires immediately", []signal.ObjectFinding{{Label: "phone", Area: 3000}}, true},
		{"three large rectangles", []signal.ObjectFinding{rect(5000), rect(5000), rect(5000)}, true},
		{"two large rectangles", []signal.ObjectFinding{rect(5000), rect(5000)}, false},
		{"three small rectangles", []signal.ObjectFinding{rect(4000), rect(4000), rect(4000)}, false},
		{"no objects", nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := bundleWithFaces(1)
			b.Objects = tc.objects
			got := Classify(b, match.Result{Matched: true}, Options{ObjectAreaFloor: DefaultObjectAreaFloor})

			fired := false
			for _, v := range got {
				if v.Type == TypeSuspiciousObject {
					fired = true
				}
			}
			if fired != tc.want {
				t.Errorf("suspicious_object fired = %v, want %v (violations: %+v)", fired, tc.want, got)
			}
		})
	}
}

func TestAssessGaze(t *testing.T) {
	face := signal.Box{X: 0, Y: 0, Width: 200, Height: 200}
	eye := func(x int) signal.Box {
		return signal.Box{X: x, Y: 50, Width: 20, Height: 10}
	}

	tests := []struct {
		name       string
		eyes       []signal.Box
		wantScore  int
		wantStatus string
	}{
		{"both eyes, plausible separation", []signal.Box{eye(40), eye(100)}, 80, GazeFocused},
		{"both eyes, too far apart", []signal.Box{eye(10), eye(150)}, 50, GazePartiallyFocused},
		{"both eyes, too close", []signal.Box{eye(50), eye(60)}, 50, GazePartiallyFocused},
		{"one eye", []signal.Box{eye(40)}, 20, GazeDistracted},
		{"no eyes", nil, 0, GazeDistracted},
		{"eye outside face ignored", []signal.Box{eye(40), {X: 500, Y: 50, Width: 20, Height: 10}}, 20, GazeDistracted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := AssessGaze(tc.eyes, face)
			if got.Score != tc.wantScore {
				t.Errorf("score = %d, want %d", got.Score, tc.wantScore)
			}
			if got.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", got.Status, tc.wantStatus)
			}
		})
	}
}

func TestGazeStatusBands(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{70, GazeFocused},
		{69, GazePartiallyFocused},
		{40, GazePartiallyFocused},
		{39, GazeDistracted},
		{0, GazeDistracted},
	}
	for _, tc := range tests {
		if got := gazeStatus(tc.score); got != tc.want {
			t.Errorf("gazeStatus(%d) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestClassifyGazeViolations(t *testing.T) {
	face := signal.Box{X: 0, Y: 0, Width: 200, Height: 200}
	b := &signal.Bundle{
		Faces: []signal.Face{{Box: face}},
		Eyes:  []signal.Box{{X: 40, Y: 50, Width: 20, Height: 10}},
	}

	got := Classify(b, match.Result{Matched: true}, Options{IncludeGaze: true})

	types := map[Type]bool{}
	for _, v := range got {
		types[v.Type] = true
	}
	if !types[TypeEyesNotDetected] {
		t.Errorf("one eye should raise eyes_not_detected: %+v", got)
	}
	if !types[TypeDistracted] {
		t.Errorf("score 20 should raise distracted: %+v", got)
	}
}

func TestClassifyGazeSkippedForMultipleFaces(t *testing.T) {
	b := bundleWithFaces(2)
	got := Classify(b, match.NoMatch, Options{IncludeGaze: true})
	for _, v := range got {
		switch v.Type {
		case TypeEyesNotDetected, TypeDistracted, TypePartialAttention:
			t.Errorf("gaze violation %s raised with two faces", v.Type)
		}
	}
}

func TestAssessQuality(t *testing.T) {
	tests := []struct {
		name       string
		m          signal.Metrics
		wantScore  int
		wantIssues []string
	}{
		{
			"good frame",
			signal.Metrics{Brightness: 120, Sharpness: 250, Width: 1280, Height: 720},
			100, nil,
		},
		{
			"too dark",
			signal.Metrics{Brightness: 30, Sharpness: 250, Width: 1280, Height: 720},
			70, []string{"too dark"},
		},
		{
			"too bright",
			signal.Metrics{Brightness: 240, Sharpness: 250, Width: 1280, Height: 720},
			70, []string{"too bright"},
		},
		{
			"blurry",
			signal.Metrics{Brightness: 120, Sharpness: 40, Width: 1280, Height: 720},
			60, []string{"blurry"},
		},
		{
			"low resolution",
			signal.Metrics{Brightness: 120, Sharpness: 250, Width: 320, Height: 240},
			70, []string{"low resolution"},
		},
		{
			"everything wrong",
			signal.Metrics{Brightness: 10, Sharpness: 10, Width: 100, Height: 100},
			0, []string{"too dark", "blurry", "low resolution"},
		},
		{
			"boundary values pass",
			signal.Metrics{Brightness: 50, Sharpness: 100, Width: 640, Height: 480},
			100, nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := AssessQuality(tc.m)
			if got.Score != tc.wantScore {
				t.Errorf("score = %d, want %d", got.Score, tc.wantScore)
			}
			if len(got.Issues) != len(tc.wantIssues) {
				t.Fatalf("issues = %v, want %v", got.Issues, tc.wantIssues)
			}
			for i := range tc.wantIssues {
				if got.Issues[i] != tc.wantIssues[i] {
					t.Errorf("issue[%d] = %q, want %q", i, got.Issues[i], tc.wantIssues[i])
				}
			}
		})
	}
}
