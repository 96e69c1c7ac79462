package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"resyncbot/logger"
	"resyncbot/queue"
	"resyncbot/settings"
)

func TestMain(m *testing.M) {
	logger.Init(logger.Config{Level: logger.LevelError, Format: "text"})
	m.Run()
}

func TestNewWithoutURL(t *testing.T) {
	notifier := New(settings.NotifyConfig{})
	if _, ok := notifier.(*LogNotifier); !ok {
		t.Errorf("New with no URL returned %T, want *LogNotifier", notifier)
	}

	// Logging fallback must not panic on either outcome.
	notifier.Notify("user1", queue.JobStatus{ID: "j1", State: queue.StateSucceeded})
	notifier.Notify("user1", queue.JobStatus{ID: "j2", State: queue.StateFailed, Reason: "boom"})
}

func TestWebhookDelivery(t *testing.T) {
	var gotToken string
	var got resultPayload
	delivered := make(chan struct{})

	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Auth-Token")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("callback failed to decode payload: %v", err)
		}
		close(delivered)
	}))
	defer callback.Close()

	notifier := New(settings.NotifyConfig{Url: callback.URL, Key: "callback-key"})
	notifier.Notify("user1", queue.JobStatus{
		ID:        "job-1",
		State:     queue.StateSucceeded,
		OutputURL: "https://cdn.example.com/out.mp4",
	})

	<-delivered
	if gotToken != "callback-key" {
		t.Errorf("X-Auth-Token = %q, want callback-key", gotToken)
	}
	if got.JobID != "job-1" || got.State != "succeeded" {
		t.Errorf("payload = %+v", got)
	}
	if got.RequesterID != "user1" {
		t.Errorf("requester_id = %q, want user1", got.RequesterID)
	}
}

func TestWebhookFailureDoesNotPanic(t *testing.T) {
	notifier := New(settings.NotifyConfig{Url: "http://127.0.0.1:1"})
	notifier.Notify("user1", queue.JobStatus{ID: "job-1", State: queue.StateFailed, Reason: "boom"})
}
