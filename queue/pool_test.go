package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingProcessor records how many times each job was handed to a worker.
type countingProcessor struct {
	mu        sync.Mutex
	seen      map[string]int
	processed atomic.Int64
	done      chan struct{}
	total     int64
}

func newCountingProcessor(total int) *countingProcessor {
	return &countingProcessor{
		seen:  make(map[string]int),
		done:  make(chan struct{}),
		total: int64(total),
	}
}

func (p *countingProcessor) Process(ctx context.Context, job *Job) (Result, error) {
	p.mu.Lock()
	p.seen[job.ID]++
	p.mu.Unlock()

	if p.processed.Add(1) == p.total {
		close(p.done)
	}
	return Result{OutputURL: "https://example.com/" + job.ID}, nil
}

// panicProcessor crashes on jobs whose requester is marked for it.
type panicProcessor struct {
	processed atomic.Int64
}

func (p *panicProcessor) Process(ctx context.Context, job *Job) (Result, error) {
	p.processed.Add(1)
	if job.RequesterID == "crash" {
		panic("processor blew up")
	}
	return Result{}, nil
}

// recordingNotifier collects every terminal notification.
type recordingNotifier struct {
	mu     sync.Mutex
	states map[string]JobState
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{states: make(map[string]JobState)}
}

func (n *recordingNotifier) Notify(requesterID string, status JobStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states[status.ID] = status.State
}

func (n *recordingNotifier) state(id string) JobState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.states[id]
}

// 1000 concurrent submissions drained by 20 workers, every job must be
// dispatched exactly once.
func TestPoolDispatchExactlyOnce(t *testing.T) {
	const jobCount = 1000

	s := NewScheduler(2, 0)
	processor := newCountingProcessor(jobCount)
	notifier := newRecordingNotifier()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(s, processor, notifier, 20, 5*time.Millisecond, time.Minute)
	pool.Start(ctx)

	var submitters sync.WaitGroup
	for i := 0; i < jobCount; i++ {
		submitters.Add(1)
		go func(i int) {
			defer submitters.Done()
			tier := TierFree
			if i%2 == 0 {
				tier = TierPremium
			}
			_, _, err := s.Submit(Job{
				RequesterID: fmt.Sprintf("user%d", i),
				Tier:        tier,
				Payload:     Payload{Command: "resyncmedia"},
			})
			if err != nil {
				t.Errorf("Submit %d failed: %v", i, err)
			}
		}(i)
	}
	submitters.Wait()

	select {
	case <-processor.done:
	case <-time.After(30 * time.Second):
		t.Fatalf("timed out, processed %d of %d jobs", processor.processed.Load(), jobCount)
	}

	cancel()
	pool.Wait()

	processor.mu.Lock()
	defer processor.mu.Unlock()
	if len(processor.seen) != jobCount {
		t.Errorf("distinct jobs processed = %d, want %d", len(processor.seen), jobCount)
	}
	for id, count := range processor.seen {
		if count != 1 {
			t.Errorf("job %s processed %d times, want exactly once", id, count)
		}
	}
	if !s.IsEmpty() {
		t.Error("scheduler not drained after all jobs processed")
	}
}

// A panicking processor marks the job failed and the worker keeps serving
// the jobs behind it.
func TestPoolWorkerPanicFailsJob(t *testing.T) {
	s := NewScheduler(2, 0)
	processor := &panicProcessor{}
	notifier := newRecordingNotifier()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(s, processor, notifier, 1, 5*time.Millisecond, 0)
	pool.Start(ctx)

	crash, _, err := s.Submit(Job{RequesterID: "crash", Tier: TierFree, Payload: Payload{Command: "resyncmedia"}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	after, _, err := s.Submit(Job{RequesterID: "survivor", Tier: TierFree, Payload: Payload{Command: "resyncmedia"}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for processor.processed.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out, processed %d of 2 jobs", processor.processed.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	waitForState(t, s, crash, StateFailed)
	waitForState(t, s, after, StateSucceeded)

	crashStatus, _ := s.Status(crash)
	if crashStatus.Reason == "" {
		t.Error("failed job has no reason")
	}
	if got := notifier.state(crash.ID); got != StateFailed {
		t.Errorf("crash notification state = %s, want failed", got)
	}
	if got := notifier.state(after.ID); got != StateSucceeded {
		t.Errorf("survivor notification state = %s, want succeeded", got)
	}
}

func TestPoolNotifiesOnSuccess(t *testing.T) {
	s := NewScheduler(2, 0)
	processor := newCountingProcessor(1)
	notifier := newRecordingNotifier()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(s, processor, notifier, 2, 5*time.Millisecond, 0)
	pool.Start(ctx)

	h, _, err := s.Submit(Job{RequesterID: "user1", Tier: TierPremium, Payload: Payload{Command: "resyncmp4"}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-processor.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never processed")
	}

	waitForState(t, s, h, StateSucceeded)
	if got := notifier.state(h.ID); got != StateSucceeded {
		t.Errorf("notification state = %s, want succeeded", got)
	}
}

// waitForState polls until the job reaches the wanted terminal state; the
// worker records it just after Process returns.
func waitForState(t *testing.T, s *Scheduler, h Handle, want JobState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		status, err := s.Status(h)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if status.State == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job %s stuck in %s, want %s", h.ID, status.State, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
