package queue

import (
	"fmt"
	"sync"
	"time"

	"resyncbot/logger"
	"resyncbot/monitor"

	"github.com/google/uuid"
	"github.com/hako/durafmt"
)

// Scheduler owns the two tier queues and decides dispatch order. Premium
// jobs are preferred, but after `every` consecutive premium dispatches one
// free job is dispatched so free users are never starved indefinitely.
// All queue state, including the interleave streak, lives behind one mutex
// so Next hands each job to exactly one worker.
type Scheduler struct {
	mu      sync.Mutex
	premium []*Job
	free    []*Job
	jobs    map[string]*Job

	streak   int // consecutive premium dispatches since the last free one
	every    int // interleave ratio k
	maxQueue int // per-tier cap, 0 means unbounded
	running  int

	wake chan struct{}

	// rolling average of completed job durations, used for wait estimates
	durTotal time.Duration
	durCount int
}

// NewScheduler creates a scheduler with interleave ratio `every` and an
// optional per-tier queue size cap.
func NewScheduler(every int, maxQueue int) *Scheduler {
	if every < 1 {
		every = 1
	}
	return &Scheduler{
		jobs:     make(map[string]*Job),
		every:    every,
		maxQueue: maxQueue,
		wake:     make(chan struct{}, 1),
	}
}

// Submit validates and admits a job at the tail of its tier's queue. It
// never blocks. The returned message tells the requester how many jobs are
// ahead of them, empty when they are next up on an idle scheduler.
func (s *Scheduler) Submit(job Job) (Handle, string, error) {
	if _, err := ParseTier(string(job.Tier)); err != nil {
		return Handle{}, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	job.State = StateQueued

	entry := &job
	switch job.Tier {
	case TierPremium:
		if s.maxQueue > 0 && len(s.premium) >= s.maxQueue {
			return Handle{}, "", ErrQueueFull
		}
		s.premium = append(s.premium, entry)
	case TierFree:
		if s.maxQueue > 0 && len(s.free) >= s.maxQueue {
			return Handle{}, "", ErrQueueFull
		}
		s.free = append(s.free, entry)
	}
	s.jobs[job.ID] = entry

	monitor.JobQueued(string(job.Tier))
	s.updateDepthLocked()
	logger.Debug("Job queued", "job", job.ID, "tier", job.Tier, "command", job.Payload.Command)

	// Wake one idle worker, if any.
	select {
	case s.wake <- struct{}{}:
	default:
	}

	return Handle{ID: job.ID}, s.queueMessageLocked(entry), nil
}

// Next hands out the next job to run, or nil when both queues are empty.
// The returned job is already marked running; the caller must eventually
// call Finish on it. The scheduler lock is released before the caller
// starts the long media pipeline.
func (s *Scheduler) Next() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job *Job
	switch {
	case len(s.free) > 0 && (len(s.premium) == 0 || s.streak >= s.every):
		job = s.free[0]
		s.free = s.free[1:]
		s.streak = 0
	case len(s.premium) > 0:
		job = s.premium[0]
		s.premium = s.premium[1:]
		s.streak++
	default:
		return nil
	}

	job.State = StateRunning
	job.StartedAt = time.Now()
	s.running++

	monitor.JobDispatched(string(job.Tier))
	s.updateDepthLocked()
	return job
}

// Cancel removes a queued job. It returns false without error when the job
// has already been dispatched or finished; cancellation is best-effort and
// never interrupts a running job.
func (s *Scheduler) Cancel(h Handle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[h.ID]
	if !ok {
		return false, ErrNotFound
	}
	if job.State != StateQueued {
		return false, nil
	}

	switch job.Tier {
	case TierPremium:
		s.premium = removeJob(s.premium, job.ID)
	case TierFree:
		s.free = removeJob(s.free, job.ID)
	}
	job.State = StateCancelled
	job.FinishedAt = time.Now()

	monitor.JobFinished(string(StateCancelled), string(job.Tier), 0)
	s.updateDepthLocked()
	logger.Debug("Job cancelled", "job", job.ID, "tier", job.Tier)
	return true, nil
}

// Finish records the terminal state of a dispatched job.
func (s *Scheduler) Finish(id string, state JobState, reason string) error {
	if !state.Terminal() {
		return fmt.Errorf("state %q is not terminal", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.State != StateRunning {
		return fmt.Errorf("job %s is %s, not running", id, job.State)
	}

	job.State = state
	job.Reason = reason
	job.FinishedAt = time.Now()
	s.running--

	elapsed := job.FinishedAt.Sub(job.StartedAt)
	s.durTotal += elapsed
	s.durCount++

	monitor.JobFinished(string(state), string(job.Tier), elapsed)
	s.updateDepthLocked()
	return nil
}

// Status returns a snapshot of a job's state, its interleave-aware queue
// position (-1 once it has left the queue) and a humanized wait estimate.
func (s *Scheduler) Status(h Handle) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[h.ID]
	if !ok {
		return JobStatus{}, ErrNotFound
	}

	status := JobStatus{
		ID:          job.ID,
		RequesterID: job.RequesterID,
		Tier:        job.Tier,
		State:       job.State,
		Reason:      job.Reason,
		Position:    -1,
	}
	if job.State == StateQueued {
		status.Position = s.positionLocked(job)
		if avg := s.avgDurationLocked(); avg > 0 {
			wait := avg * time.Duration(status.Position+1)
			status.EstimatedWait = durafmt.Parse(wait.Round(time.Second)).LimitFirstN(2).String()
		}
	}
	return status, nil
}

// positionLocked counts the jobs the dispatch policy would hand out before
// this one, accounting for the interleave between tiers.
func (s *Scheduler) positionLocked(job *Job) int {
	switch job.Tier {
	case TierPremium:
		for i, j := range s.premium {
			if j.ID == job.ID {
				// i premium jobs ahead, plus the free jobs that will
				// interleave while they drain.
				interleaved := (s.streak + i) / s.every
				if interleaved > len(s.free) {
					interleaved = len(s.free)
				}
				return i + interleaved
			}
		}
	case TierFree:
		for i, j := range s.free {
			if j.ID == job.ID {
				// Up to every*(i+1) premium dispatches happen before the
				// (i+1)th free slot comes around.
				ahead := (i+1)*s.every - s.streak
				if ahead < 0 {
					ahead = 0
				}
				if ahead > len(s.premium) {
					ahead = len(s.premium)
				}
				return i + ahead
			}
		}
	}
	return -1
}

func (s *Scheduler) queueMessageLocked(job *Job) string {
	ahead := s.positionLocked(job)
	if s.running > 0 {
		ahead++
	}
	if ahead <= 0 {
		return ""
	}
	if ahead == 1 {
		return "There is 1 job ahead of you. Your request will be processed shortly."
	}
	return fmt.Sprintf("There are %d jobs ahead of you. Your request will be processed shortly.", ahead)
}

func (s *Scheduler) avgDurationLocked() time.Duration {
	if s.durCount == 0 {
		return 0
	}
	return s.durTotal / time.Duration(s.durCount)
}

func (s *Scheduler) updateDepthLocked() {
	monitor.SetQueueDepth(len(s.premium), len(s.free), s.running)
}

// Wake signals whenever a new job is submitted; idle workers block on it.
func (s *Scheduler) Wake() <-chan struct{} {
	return s.wake
}

// IsEmpty checks if both tier queues are empty.
func (s *Scheduler) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.premium) == 0 && len(s.free) == 0
}

// Lengths returns the current premium and free queue lengths.
func (s *Scheduler) Lengths() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.premium), len(s.free)
}

// QueueStats is the detailed queue report served on the stats endpoint.
type QueueStats struct {
	PremiumLength int      `json:"premium_queue_length"`
	FreeLength    int      `json:"free_queue_length"`
	Running       int      `json:"running"`
	PremiumItems  []string `json:"premium_queue_items"`
	FreeItems     []string `json:"free_queue_items"`
	AvgJobSeconds float64  `json:"avg_job_seconds"`
}

// Stats returns a snapshot of both queues and the running job count.
func (s *Scheduler) Stats() *QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &QueueStats{
		PremiumLength: len(s.premium),
		FreeLength:    len(s.free),
		Running:       s.running,
		AvgJobSeconds: s.avgDurationLocked().Seconds(),
	}
	for _, j := range s.premium {
		stats.PremiumItems = append(stats.PremiumItems, j.Payload.Command)
	}
	for _, j := range s.free {
		stats.FreeItems = append(stats.FreeItems, j.Payload.Command)
	}
	return stats
}

func removeJob(jobs []*Job, id string) []*Job {
	for i, j := range jobs {
		if j.ID == id {
			return append(jobs[:i], jobs[i+1:]...)
		}
	}
	return jobs
}
