package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"resyncbot/logger"
)

// Pool runs a bounded number of workers against one scheduler. Each worker
// dequeues with Next, runs the processing collaborator with a per-job
// timeout, records the terminal state and notifies the requester. A worker
// panic marks the job failed instead of losing it; the worker keeps
// running.
type Pool struct {
	sched     *Scheduler
	processor Processor
	notifier  Notifier

	size    int
	poll    time.Duration
	timeout time.Duration

	wg sync.WaitGroup
}

// NewPool creates a worker pool of the given size. poll is the fallback
// wait between Next calls when the wake channel stays quiet; timeout bounds
// one job's processing time, 0 disables the bound.
func NewPool(sched *Scheduler, processor Processor, notifier Notifier, size int, poll, timeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Pool{
		sched:     sched,
		processor: processor,
		notifier:  notifier,
		size:      size,
		poll:      poll,
		timeout:   timeout,
	}
}

// Start launches the workers. They run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 1; i <= p.size; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	logger.Info("Worker pool started", "workers", p.size)
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	log := logger.Worker(id)
	log.Debug("Worker started")

	for {
		job := p.sched.Next()
		if job == nil {
			select {
			case <-ctx.Done():
				log.Debug("Worker stopped")
				return
			case <-p.sched.Wake():
			case <-time.After(p.poll):
			}
			continue
		}

		p.runJob(ctx, id, job)

		select {
		case <-ctx.Done():
			log.Debug("Worker stopped")
			return
		default:
		}
	}
}

// runJob executes one job start to finish. The scheduler lock is not held
// here; only Finish re-enters it.
func (p *Pool) runJob(ctx context.Context, workerID int, job *Job) {
	log := logger.Job(job.ID, string(job.Tier)).With("worker", workerID)
	log.Info("Processing job", "command", job.Payload.Command)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker crashed during job", "panic", r)
			p.finish(job, StateFailed, fmt.Sprintf("worker crashed: %v", r))
		}
	}()

	jctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result, err := p.processor.Process(jctx, job)
	if err != nil {
		log.Error("Job failed", "error", err)
		p.finish(job, StateFailed, err.Error())
		return
	}

	log.Info("Job completed", "output", result.OutputURL)
	p.finishWithResult(job, result)
}

func (p *Pool) finish(job *Job, state JobState, reason string) {
	if err := p.sched.Finish(job.ID, state, reason); err != nil {
		logger.Error("Failed to record job state", "job", job.ID, "error", err)
		return
	}
	if p.notifier != nil {
		p.notifier.Notify(job.RequesterID, JobStatus{
			ID:          job.ID,
			RequesterID: job.RequesterID,
			Tier:        job.Tier,
			State:       state,
			Reason:      reason,
			Position:    -1,
		})
	}
}

func (p *Pool) finishWithResult(job *Job, result Result) {
	if err := p.sched.Finish(job.ID, StateSucceeded, ""); err != nil {
		logger.Error("Failed to record job state", "job", job.ID, "error", err)
		return
	}
	if p.notifier != nil {
		p.notifier.Notify(job.RequesterID, JobStatus{
			ID:          job.ID,
			RequesterID: job.RequesterID,
			Tier:        job.Tier,
			State:       StateSucceeded,
			Position:    -1,
			OutputURL:   result.OutputURL,
		})
	}
}
