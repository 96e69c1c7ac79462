package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"resyncbot/queue"
	"resyncbot/settings"
)

// Commands the resync backend knows how to process.
const (
	CommandResyncMedia  = "resyncmedia"
	CommandResyncMp3    = "resyncmp3"
	CommandResyncMp4    = "resyncmp4"
	CommandAutoResync   = "autoresyncmedia"
	CommandRandomResync = "resyncrandommedia"
	CommandLoopAudio    = "loopaudio"
	CommandDownloadMp3  = "downloadaudio"
	CommandDownloadMp4  = "downloadvideo"
)

var endpoints = map[string]string{
	CommandResyncMedia:  "/resyncmedia",
	CommandResyncMp3:    "/resyncmp3",
	CommandResyncMp4:    "/resyncmp4",
	CommandAutoResync:   "/autoresyncmedia",
	CommandRandomResync: "/resyncrandommedia",
	CommandLoopAudio:    "/loopaudio",
	CommandDownloadMp3:  "/downloadaudio",
	CommandDownloadMp4:  "/downloadvideo",
}

var ErrUnknownCommand = errors.New("unknown pipeline command")

// processResponse is the backend's answer for one job.
type processResponse struct {
	Success   bool   `json:"success"`
	OutputURL string `json:"output_url"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BackendStats mirrors the backend's /stats payload.
type BackendStats struct {
	Status      string  `json:"status"`
	ActiveJobs  int     `json:"active_jobs"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"memory_percent"`
	DiskPercent float64 `json:"disk_percent"`
	Error       string  `json:"error,omitempty"`
}

// Client talks to the media processing backend. It implements
// queue.Processor; the download/trim/combine work itself happens on the
// backend, this side just waits for it.
type Client struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client

	mu             sync.Mutex
	cachedStats    *BackendStats
	statsCacheTime time.Time
}

// NewClient creates a pipeline client from configuration.
func NewClient(config settings.PipelineConfig) *Client {
	return &Client{
		BaseURL: config.Url,
		Secret:  config.Secret,
		HTTPClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
	}
}

// Process sends one job to the backend and blocks until it answers. The
// context carries the worker's per-job deadline.
func (c *Client) Process(ctx context.Context, job *queue.Job) (queue.Result, error) {
	endpoint, ok := endpoints[job.Payload.Command]
	if !ok {
		return queue.Result{}, fmt.Errorf("%w: %q", ErrUnknownCommand, job.Payload.Command)
	}

	req := Request{
		Url:    c.BaseURL + endpoint,
		Method: "POST",
		Headers: []Headers{
			{Key: "X-API-Secret", Value: c.Secret},
		},
	}

	if job.Payload.FilePath != "" {
		// Attachment uploads go up as multipart with the rest of the
		// payload as form fields.
		req.FileName = job.Payload.FilePath
		req.Fields = []Fields{
			{Key: "requester_id", Value: job.RequesterID},
			{Key: "job_id", Value: job.ID},
			{Key: "video_url", Value: job.Payload.VideoURL},
			{Key: "audio_url", Value: job.Payload.AudioURL},
			{Key: "audio_offset", Value: job.Payload.AudioOffset},
			{Key: "track_id", Value: job.Payload.TrackID},
		}
		for k, v := range job.Payload.Extra {
			req.Fields = append(req.Fields, Fields{Key: k, Value: v})
		}
	} else {
		payload := map[string]string{
			"requester_id": job.RequesterID,
			"job_id":       job.ID,
			"video_url":    job.Payload.VideoURL,
			"audio_url":    job.Payload.AudioURL,
			"audio_offset": job.Payload.AudioOffset,
			"track_id":     job.Payload.TrackID,
		}
		for k, v := range job.Payload.Extra {
			payload[k] = v
		}
		req.Payload = payload
	}

	var resp processResponse
	if err := req.Call(ctx, c.HTTPClient, &resp); err != nil {
		return queue.Result{}, err
	}

	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "processing failed"
		}
		return queue.Result{}, errors.New(reason)
	}

	return queue.Result{OutputURL: resp.OutputURL, Message: resp.Message}, nil
}

// Stats fetches the backend's health report, cached for a few seconds so
// the stats endpoint doesn't hammer it.
func (c *Client) Stats(ctx context.Context) (*BackendStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedStats != nil && time.Since(c.statsCacheTime) < 3*time.Second {
		return c.cachedStats, nil
	}

	req := Request{
		Url:    c.BaseURL + "/stats",
		Method: "GET",
		Headers: []Headers{
			{Key: "X-API-Secret", Value: c.Secret},
		},
	}

	var stats BackendStats
	if err := req.Call(ctx, c.HTTPClient, &stats); err != nil {
		return nil, err
	}

	c.cachedStats = &stats
	c.statsCacheTime = time.Now()
	return &stats, nil
}

// Healthy reports whether the backend is reachable and not overloaded.
func (c *Client) Healthy(ctx context.Context) bool {
	stats, err := c.Stats(ctx)
	if err != nil {
		return false
	}
	return stats.Error == ""
}
