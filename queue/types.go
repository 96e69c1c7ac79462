package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tier is the priority class a job is admitted under. It is decided once,
// at submission time, and never changes afterwards even if the requester's
// subscription does.
type Tier string

const (
	TierPremium Tier = "premium"
	TierFree    Tier = "free"
)

// ParseTier converts a wire string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierPremium:
		return TierPremium, nil
	case TierFree:
		return TierFree, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// JobState is the lifecycle state of a job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

var (
	ErrUnknownTier = errors.New("unknown tier")
	ErrNotFound    = errors.New("job not found")
	ErrQueueFull   = errors.New("the queue is currently full, please try again in a few minutes")
)

// Payload describes the requested media operation. The scheduler never
// interprets it, it is carried opaquely to the processing collaborator.
type Payload struct {
	Command     string            `json:"command"`
	VideoURL    string            `json:"video_url,omitempty"`
	AudioURL    string            `json:"audio_url,omitempty"`
	AudioOffset string            `json:"audio_offset,omitempty"`
	TrackID     string            `json:"track_id,omitempty"`
	FilePath    string            `json:"file_path,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Job is one user's processing request. ID, RequesterID, Tier, Payload and
// SubmittedAt are immutable after Submit; State, Reason and the run
// timestamps are mutated only under the scheduler's lock.
type Job struct {
	ID          string
	RequesterID string
	Tier        Tier
	Payload     Payload
	SubmittedAt time.Time

	State      JobState
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Handle identifies a submitted job for status polling and cancellation.
type Handle struct {
	ID string
}

// JobStatus is a point-in-time snapshot returned by Status.
type JobStatus struct {
	ID            string   `json:"id"`
	RequesterID   string   `json:"requester_id"`
	Tier          Tier     `json:"tier"`
	State         JobState `json:"state"`
	Reason        string   `json:"reason,omitempty"`
	Position      int      `json:"position"`
	EstimatedWait string   `json:"estimated_wait,omitempty"`
	OutputURL     string   `json:"output_url,omitempty"`
}

// Result is what the processing collaborator hands back for one job.
type Result struct {
	OutputURL string
	Message   string
}

// Processor runs the media pipeline for one job. It blocks for the whole
// download/trim/combine cycle, which may take minutes.
type Processor interface {
	Process(ctx context.Context, job *Job) (Result, error)
}

// Notifier delivers a terminal job result back to the requester.
type Notifier interface {
	Notify(requesterID string, status JobStatus)
}
