package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mikeyg42/bialert/internal/alert"
	"github.com/mikeyg42/bialert/internal/bi"
	"github.com/mikeyg42/bialert/internal/database"
)

type stubRunner struct {
	ref     alert.Ref
	outcome alert.Outcome
	err     error
	calls   int
}

func (s *stubRunner) Run(ctx context.Context, ref alert.Ref) (alert.Outcome, error) {
	s.calls++
	s.ref = ref
	if s.err != nil {
		return alert.Outcome{}, s.err
	}
	out := s.outcome
	out.Ref = ref
	return out, nil
}

type stubDashboard struct {
	recent []database.AlertRecord
	stats  database.Stats
	err    error
}

func (s *stubDashboard) RecentAlerts(ctx context.Context, limit int) ([]database.AlertRecord, error) {
	return s.recent, s.err
}

func (s *stubDashboard) AlertStats(ctx context.Context, days int) (database.Stats, error) {
	return s.stats, s.err
}

func postWebhook(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestWebhookSuccess(t *testing.T) {
	runner := &stubRunner{outcome: alert.Outcome{
		GifURL:   "https://minio/bialerts/alerts/a.gif",
		JpegURLs: []string{"https://minio/bialerts/alert_frames/f.jpg"},
	}}
	srv := NewServer(":0", runner, nil)

	rr := postWebhook(t, srv.Handler(),
		`{"camera":"Yard","timestamp":"4:07:00 PM","alert_handle":"@887766"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp["status"] != "success" {
		t.Fatalf("status field = %v", resp["status"])
	}
	if runner.ref.Handle != "@887766" || runner.ref.Camera != "Yard" {
		t.Fatalf("runner got ref %+v", runner.ref)
	}
}

func TestWebhookDefaultsHandleToSentinel(t *testing.T) {
	runner := &stubRunner{}
	srv := NewServer(":0", runner, nil)

	rr := postWebhook(t, srv.Handler(), `{"camera":"Yard"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if runner.ref.Handle != bi.SentinelHandle {
		t.Fatalf("handle = %q, want sentinel", runner.ref.Handle)
	}
	if runner.ref.Timestamp == "" {
		t.Fatal("missing timestamp should be filled in")
	}
}

func TestWebhookRejectedOutcome(t *testing.T) {
	runner := &stubRunner{outcome: alert.Outcome{Rejected: true, Confidence: 0.31}}
	srv := NewServer(":0", runner, nil)

	rr := postWebhook(t, srv.Handler(), `{"camera":"Yard"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "ignored" {
		t.Fatalf("status field = %v, want ignored", resp["status"])
	}
}

func TestWebhookBadJSON(t *testing.T) {
	runner := &stubRunner{}
	srv := NewServer(":0", runner, nil)

	rr := postWebhook(t, srv.Handler(), `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if runner.calls != 0 {
		t.Fatal("malformed payload must not start a run")
	}
}

func TestWebhookMissingCamera(t *testing.T) {
	runner := &stubRunner{}
	srv := NewServer(":0", runner, nil)

	rr := postWebhook(t, srv.Handler(), `{"timestamp":"4:07:00 PM"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if runner.calls != 0 {
		t.Fatal("missing camera must not start a run")
	}
}

func TestWebhookRunFailure(t *testing.T) {
	runner := &stubRunner{err: fmt.Errorf("export timed out")}
	srv := NewServer(":0", runner, nil)

	rr := postWebhook(t, srv.Handler(), `{"camera":"Yard"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if !strings.Contains(resp["error"], "export timed out") {
		t.Fatalf("error body = %q", resp["error"])
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	srv := NewServer(":0", &stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestRecentAlertsRoute(t *testing.T) {
	dash := &stubDashboard{recent: []database.AlertRecord{{Camera: "Yard", Success: true}}}
	srv := NewServer(":0", &stubRunner{}, dash)

	req := httptest.NewRequest(http.MethodGet, "/api/alerts/recent?limit=5", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var recs []database.AlertRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &recs); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(recs) != 1 || recs[0].Camera != "Yard" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestDashboardRoutesUnavailableWithoutStore(t *testing.T) {
	srv := NewServer(":0", &stubRunner{}, nil)

	for _, path := range []string{"/api/alerts/recent", "/api/alerts/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s status = %d, want 503", path, rr.Code)
		}
	}
}

func TestHealthRoute(t *testing.T) {
	srv := NewServer(":0", &stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ok") {
		t.Fatalf("body = %q", rr.Body.String())
	}
}
