package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"resyncbot/logger"
	"resyncbot/queue"
)

func TestMain(m *testing.M) {
	logger.Init(logger.Config{Level: logger.LevelError, Format: "text"})
	m.Run()
}

// mockClassifier upgrades the requesters listed in premium, everyone else
// is free.
type mockClassifier struct {
	premium map[string]bool
}

func (c *mockClassifier) Classify(ctx context.Context, requesterID string) queue.Tier {
	if c.premium[requesterID] {
		return queue.TierPremium
	}
	return queue.TierFree
}

const testSecret = "test-secret"

func newTestServer() (*Server, *queue.Scheduler) {
	sched := queue.NewScheduler(2, 0)
	classifier := &mockClassifier{premium: map[string]bool{"vip": true}}
	srv := NewServer(sched, classifier, nil, nil, nil, testSecret)
	return srv, sched
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Secret", testSecret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSubmitClassifiesTier(t *testing.T) {
	srv, _ := newTestServer()
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/resync", map[string]string{
		"requester_id": "vip",
		"command":      "resyncmedia",
		"video_url":    "https://example.com/clip.mp4",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[submitResponse](t, rec)
	if resp.Tier != "premium" {
		t.Errorf("tier = %s, want premium", resp.Tier)
	}
	if resp.JobID == "" {
		t.Error("response has no job_id")
	}
	if resp.State != "queued" {
		t.Errorf("state = %s, want queued", resp.State)
	}

	rec = doRequest(t, router, http.MethodPost, "/resync", map[string]string{
		"requester_id": "somebody",
		"command":      "resyncmedia",
	})
	if tier := decodeBody[submitResponse](t, rec).Tier; tier != "free" {
		t.Errorf("tier = %s, want free", tier)
	}
}

func TestSubmitRejectsUnknownTierHint(t *testing.T) {
	srv, sched := newTestServer()

	rec := doRequest(t, srv.Router(), http.MethodPost, "/resync", map[string]string{
		"requester_id": "somebody",
		"command":      "resyncmedia",
		"tier":         "gold",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
	if !sched.IsEmpty() {
		t.Error("rejected submission was queued")
	}
}

func TestSubmitValidation(t *testing.T) {
	srv, _ := newTestServer()
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/resync", map[string]string{
		"command": "resyncmedia",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing requester_id: status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/resync", map[string]string{
		"requester_id": "somebody",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing command: status = %d, want 400", rec.Code)
	}
}

func TestJobStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/resync", map[string]string{
		"requester_id": "somebody",
		"command":      "resyncmp3",
	})
	jobID := decodeBody[submitResponse](t, rec).JobID

	rec = doRequest(t, router, http.MethodGet, "/jobs/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	status := decodeBody[queue.JobStatus](t, rec)
	if status.State != queue.StateQueued {
		t.Errorf("state = %s, want queued", status.State)
	}

	rec = doRequest(t, router, http.MethodGet, "/jobs/no-such-job", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: status = %d, want 404", rec.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	srv, sched := newTestServer()
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/resync", map[string]string{
		"requester_id": "somebody",
		"command":      "resyncmedia",
	})
	jobID := decodeBody[submitResponse](t, rec).JobID

	rec = doRequest(t, router, http.MethodDelete, "/jobs/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	// A second cancel finds the job already terminal.
	rec = doRequest(t, router, http.MethodDelete, "/jobs/"+jobID, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second cancel: status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, router, http.MethodDelete, "/jobs/no-such-job", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: status = %d, want 404", rec.Code)
	}

	if !sched.IsEmpty() {
		t.Error("cancelled job still queued")
	}
}

func TestCancelDispatchedJob(t *testing.T) {
	srv, sched := newTestServer()
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/resync", map[string]string{
		"requester_id": "somebody",
		"command":      "resyncmedia",
	})
	jobID := decodeBody[submitResponse](t, rec).JobID

	if job := sched.Next(); job == nil {
		t.Fatal("Next() returned nil")
	}

	rec = doRequest(t, router, http.MethodDelete, "/jobs/"+jobID, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel of running job: status = %d, want 409", rec.Code)
	}
}

func TestSecretRequired(t *testing.T) {
	srv, _ := newTestServer()
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no secret: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("X-API-Secret", "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rec.Code)
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	router := srv.Router()

	doRequest(t, router, http.MethodPost, "/resync", map[string]string{
		"requester_id": "vip",
		"command":      "resyncmedia",
	})

	rec := doRequest(t, router, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	stats := decodeBody[map[string]any](t, rec)
	queueStats, ok := stats["queue"].(map[string]any)
	if !ok {
		t.Fatalf("stats missing queue section: %v", stats)
	}
	if got := queueStats["premium_queue_length"].(float64); got != 1 {
		t.Errorf("premium_queue_length = %v, want 1", got)
	}
}

func TestTrackMatchWithoutDatabase(t *testing.T) {
	srv, _ := newTestServer()

	rec := doRequest(t, srv.Router(), http.MethodGet, "/tracks/match?bpm=140", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
