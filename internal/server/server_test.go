package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/invigil-ai/invigil/internal/auth"
	"github.com/invigil-ai/invigil/internal/config"
	"github.com/invigil-ai/invigil/internal/engine"
	"github.com/invigil-ai/invigil/internal/extractor"
	"github.com/invigil-ai/invigil/internal/gallery"
	"github.com/invigil-ai/invigil/internal/ledger"
	"github.com/invigil-ai/invigil/internal/session"
	"github.com/invigil-ai/invigil/internal/signal"
)

const testAPIKey = "test-key"

type testServer struct {
	srv   *Server
	store *ledger.Memory
	gal   *gallery.Store
}

func newTestServer(t *testing.T, fake *extractor.Fake, enrollDir string) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server:     config.ServerConfig{Addr: ":0"},
		Enrollment: config.EnrollmentConfig{Dir: enrollDir},
		Clients: []config.ClientConfig{
			{ID: "client-1", APIKeys: []string{testAPIKey}},
		},
	}
	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	store := ledger.NewMemory()
	sessions := session.NewManager(store)
	gal := gallery.NewStore()
	gal.Publish(gallery.NewSnapshot([]gallery.Entry{{Identity: "alice"}}))

	eng := engine.New(engine.Config{
		Extractor: fake,
		Gallery:   gal,
		Store:     store,
		Sessions:  sessions,
	})

	return &testServer{
		srv:   New(cfg, authz, eng, sessions, store, gal, fake),
		store: store,
		gal:   gal,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func pngB64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func verifiedFake() *extractor.Fake {
	return &extractor.Fake{
		Faces:       []signal.Face{{Box: signal.Box{Width: 100, Height: 100}}},
		FrameMetric: signal.Metrics{Brightness: 120, Sharpness: 250, Width: 1280, Height: 720},
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/frames/verify"},
		{http.MethodPost, "/v1/sessions/start"},
		{http.MethodPost, "/v1/sessions/end"},
		{http.MethodPost, "/v1/violations"},
		{http.MethodGet, "/v1/reports/aggregate"},
		{http.MethodPost, "/v1/enrollment/reload"},
	}

	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without key: status = %d, want 401", p.method, p.path, rec.Code)
		}

		req = httptest.NewRequest(p.method, p.path, nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		rec = httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with wrong key: status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	body, _ := json.Marshal(map[string]string{"student_name": "Ada", "exam_name": "Numerical Methods"})
	rec := ts.do(t, http.MethodPost, "/v1/sessions/start", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	started := decodeBody(t, rec)
	id, _ := started["session_id"].(string)
	if len(id) != 32 {
		t.Fatalf("session_id = %q, want 32 hex chars", id)
	}
	if started["status"] != "active" {
		t.Errorf("status = %v, want active", started["status"])
	}

	rec = ts.do(t, http.MethodPost, "/v1/sessions/end", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d: %s", rec.Code, rec.Body.String())
	}
	ended := decodeBody(t, rec)
	if ended["status"] != "completed" || ended["session_id"] != id {
		t.Errorf("end response = %v", ended)
	}

	// Ending again is a reported outcome, not an error.
	rec = ts.do(t, http.MethodPost, "/v1/sessions/end", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second end status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec); got["status"] != "no_active_session" {
		t.Errorf("second end = %v, want no_active_session", got)
	}
}

func TestSessionStartValidation(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	body, _ := json.Marshal(map[string]string{"student_name": "Ada"})
	rec := ts.do(t, http.MethodPost, "/v1/sessions/start", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing exam_name: status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/sessions/start", []byte("not json"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", rec.Code)
	}
}

func TestVerifyFrameJSON(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	body, _ := json.Marshal(map[string]any{"image_b64": pngB64(t)})
	rec := ts.do(t, http.MethodPost, "/v1/frames/verify", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	got := decodeBody(t, rec)
	if got["status"] != "verified" {
		t.Errorf("status = %v, want verified", got["status"])
	}
	if got["name"] != "alice" {
		t.Errorf("name = %v, want alice", got["name"])
	}
	if got["face_count"] != float64(1) {
		t.Errorf("face_count = %v, want 1", got["face_count"])
	}
}

func TestVerifyFrameMultipart(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "frame.png")
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(fw, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	rec := ts.do(t, http.MethodPost, "/v1/frames/verify", buf.Bytes(), map[string]string{
		"Content-Type": mw.FormDataContentType(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec); got["status"] != "verified" {
		t.Errorf("status = %v, want verified", got["status"])
	}
}

func TestVerifyFrameBadInput(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	tests := []struct {
		name string
		body string
	}{
		{"missing image", `{}`},
		{"invalid base64", `{"image_b64": "!!!"}`},
		{"not an image", `{"image_b64": "` + base64.StdEncoding.EncodeToString([]byte("plain text")) + `"}`},
		{"not json", `line noise`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/frames/verify", []byte(tc.body), nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestLogViolationEndpoint(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	body, _ := json.Marshal(map[string]any{"type": "suspicious_object", "details": "phone on desk"})
	rec := ts.do(t, http.MethodPost, "/v1/violations", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	if got["severity"] != float64(3) {
		t.Errorf("severity = %v, want taxonomy default 3", got["severity"])
	}
	if got["session_id"] != ledger.SentinelScope {
		t.Errorf("session_id = %v, want sentinel outside a session", got["session_id"])
	}

	body, _ = json.Marshal(map[string]any{"type": "tab_switch"})
	rec = ts.do(t, http.MethodPost, "/v1/violations", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type: status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/violations", []byte(`{"details":"no type"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing type: status = %d, want 400", rec.Code)
	}
}

func TestSessionViolationsListing(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	body, _ := json.Marshal(map[string]string{"student_name": "Ada", "exam_name": "Exam"})
	rec := ts.do(t, http.MethodPost, "/v1/sessions/start", body, nil)
	id := decodeBody(t, rec)["session_id"].(string)

	for i := 0; i < 3; i++ {
		vb, _ := json.Marshal(map[string]any{"type": "no_face"})
		if rec := ts.do(t, http.MethodPost, "/v1/violations", vb, nil); rec.Code != http.StatusOK {
			t.Fatalf("log violation %d: %d", i, rec.Code)
		}
	}

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/violations?limit=2", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	rows, _ := got["violations"].([]any)
	if len(rows) != 2 {
		t.Errorf("got %d violations, want limit 2", len(rows))
	}

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/violations?limit=bogus", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
}

func TestSessionReportEndpoint(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	body, _ := json.Marshal(map[string]string{"student_name": "Ada", "exam_name": "Exam"})
	rec := ts.do(t, http.MethodPost, "/v1/sessions/start", body, nil)
	id := decodeBody(t, rec)["session_id"].(string)

	vb, _ := json.Marshal(map[string]any{"type": "multiple_faces"})
	if rec := ts.do(t, http.MethodPost, "/v1/violations", vb, nil); rec.Code != http.StatusOK {
		t.Fatal("log violation failed")
	}

	rec = ts.do(t, http.MethodGet, "/v1/reports/sessions/"+id, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	if got["total_violations"] != float64(1) {
		t.Errorf("total = %v, want 1", got["total_violations"])
	}
	// 100 - 5*4.
	if got["integrity_score"] != float64(80) {
		t.Errorf("integrity_score = %v, want 80", got["integrity_score"])
	}

	rec = ts.do(t, http.MethodGet, "/v1/reports/sessions/does-not-exist", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: status = %d, want 404", rec.Code)
	}
}

func TestAggregateEndpoint(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	vb, _ := json.Marshal(map[string]any{"type": "no_face"})
	if rec := ts.do(t, http.MethodPost, "/v1/violations", vb, nil); rec.Code != http.StatusOK {
		t.Fatal("log violation failed")
	}

	rec := ts.do(t, http.MethodGet, "/v1/reports/aggregate?group_by=type", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	buckets, _ := got["buckets"].([]any)
	if len(buckets) != 1 {
		t.Fatalf("buckets = %v, want one", got["buckets"])
	}
	b := buckets[0].(map[string]any)
	if b["key"] != "no_face" || b["count"] != float64(1) {
		t.Errorf("bucket = %v", b)
	}

	rec = ts.do(t, http.MethodGet, "/v1/reports/aggregate?group_by=student", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad group_by: status = %d, want 400", rec.Code)
	}
}

func TestEnrollmentReload(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	f, err := os.Create(filepath.Join(dir, "bob.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	fake := verifiedFake()
	ts := newTestServer(t, fake, dir)

	rec := ts.do(t, http.MethodPost, "/v1/enrollment/reload", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	loaded, _ := got["loaded"].([]any)
	if len(loaded) != 1 || loaded[0] != "bob" {
		t.Errorf("loaded = %v, want [bob]", got["loaded"])
	}

	// The swap replaced the seeded alice-only snapshot.
	entries := ts.gal.Snapshot().Entries()
	if len(entries) != 1 || entries[0].Identity != "bob" {
		t.Errorf("gallery entries = %+v, want bob", entries)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, verifiedFake(), "")

	rec := ts.do(t, http.MethodGet, "/v1/frames/verify", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET verify: status = %d, want 405", rec.Code)
	}
	rec = ts.do(t, http.MethodDelete, "/v1/sessions/start", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE start: status = %d, want 405", rec.Code)
	}
}

func TestParseBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc123", "abc123", true},
		{"bearer xyz", "xyz", true},
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer a b", "", false},
	}
	for _, tc := range tests {
		token, ok := parseBearerToken(tc.header)
		if ok != tc.ok || (ok && token != tc.token) {
			t.Errorf("parseBearerToken(%q) = %q, %v; want %q, %v", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}
