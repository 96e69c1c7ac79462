// Package notify delivers terminal job results back to the command layer.
// The command layer (the Discord-facing process) exposes a webhook; when
// none is configured results are only logged.
package notify

import (
	"context"
	"net/http"
	"time"

	"resyncbot/logger"
	"resyncbot/pipeline"
	"resyncbot/queue"
	"resyncbot/settings"
)

// Webhook posts job results to the configured callback URL. It implements
// queue.Notifier.
type Webhook struct {
	url        string
	key        string
	httpClient *http.Client
}

// New builds a notifier from configuration. With no URL configured the
// logging fallback is returned.
func New(config settings.NotifyConfig) queue.Notifier {
	if config.Url == "" {
		return &LogNotifier{}
	}
	return &Webhook{
		url: config.Url,
		key: config.Key,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type resultPayload struct {
	RequesterID string `json:"requester_id"`
	JobID       string `json:"job_id"`
	State       string `json:"state"`
	OutputURL   string `json:"output_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Notify is best-effort: a failed delivery is logged, never retried. The
// requester can still poll the status endpoint.
func (w *Webhook) Notify(requesterID string, status queue.JobStatus) {
	req := pipeline.Request{
		Url:    w.url,
		Method: "POST",
		Headers: []pipeline.Headers{
			{Key: "X-Auth-Token", Value: w.key},
		},
		Payload: resultPayload{
			RequesterID: requesterID,
			JobID:       status.ID,
			State:       string(status.State),
			OutputURL:   status.OutputURL,
			Error:       status.Reason,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := req.Call(ctx, w.httpClient, nil); err != nil {
		logger.Warn("Failed to deliver result notification", "job", status.ID, "error", err)
		return
	}
	logger.Debug("Result notification delivered", "job", status.ID, "state", status.State)
}

// LogNotifier just logs results, used when no webhook is configured.
type LogNotifier struct{}

func (l *LogNotifier) Notify(requesterID string, status queue.JobStatus) {
	if status.State == queue.StateSucceeded {
		logger.Info("Job finished", "job", status.ID, "requester", requesterID, "output", status.OutputURL)
		return
	}
	logger.Info("Job finished", "job", status.ID, "requester", requesterID, "state", status.State, "reason", status.Reason)
}
