// Package inmem implements queue.Queue with mutex-guarded container/list
// lists, for tests
// and single-process deployments that don't need horizontal scaling.
package inmem

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashsham/open-agent-orchestrator/queue"
)

type workerState struct {
	processing *list.List // of *queue.Job, oldest (being processed) at front
	deadline   time.Time
}

// Queue implements queue.Queue in process memory.
type Queue struct {
	mu      sync.Mutex
	pending *list.List // of *queue.Job
	jobs    map[string]*queue.Job
	results map[string]json.RawMessage
	workers map[string]*workerState

	notify chan struct{} // closed and replaced whenever pending gains an item
}

// New returns an empty in-memory Queue.
func New() *Queue {
	return &Queue{
		pending: list.New(),
		jobs:    make(map[string]*queue.Job),
		results: make(map[string]json.RawMessage),
		workers: make(map[string]*workerState),
		notify:  make(chan struct{}),
	}
}

func (q *Queue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// Submit implements queue.Queue.
func (q *Queue) Submit(_ context.Context, payload json.RawMessage, retries int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &queue.Job{
		ID:          uuid.NewString(),
		Payload:     payload,
		Status:      queue.StatusPending,
		RetriesLeft: retries,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	q.jobs[job.ID] = job
	q.pending.PushBack(job)
	q.wakeLocked()
	return job.ID, nil
}

// Fetch implements queue.Queue.
func (q *Queue) Fetch(ctx context.Context, workerID string, timeout time.Duration) (*queue.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if el := q.pending.Front(); el != nil {
			job := q.pending.Remove(el).(*queue.Job)
			job.Status = queue.StatusRunning
			job.UpdatedAt = time.Now().UTC()

			w, ok := q.workers[workerID]
			if !ok {
				w = &workerState{processing: list.New()}
				q.workers[workerID] = w
			}
			w.processing.PushBack(job)

			q.mu.Unlock()
			return job, nil
		}
		wait := q.notify
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if timeout <= 0 || remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wait:
			timer.Stop()
		}
	}
}

// Complete implements queue.Queue.
func (q *Queue) Complete(_ context.Context, workerID, jobID string, result any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.popProcessingLocked(workerID, jobID)

	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("queue/inmem: job %q not found", jobID)
	}
	job.Status = queue.StatusSuccess
	job.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("queue/inmem: marshal result for %q: %w", jobID, err)
	}
	q.results[jobID] = raw
	return nil
}

// Fail implements queue.Queue.
func (q *Queue) Fail(_ context.Context, workerID, jobID string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.popProcessingLocked(workerID, jobID)

	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("queue/inmem: job %q not found", jobID)
	}

	if job.RetriesLeft > 0 {
		job.RetriesLeft--
		job.Status = queue.StatusPending
		job.UpdatedAt = time.Now().UTC()
		q.pending.PushBack(job)
		q.wakeLocked()
		return nil
	}

	job.Status = queue.StatusFailed
	job.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(map[string]string{"status": string(queue.StatusFailed), "error": errMsg})
	if err != nil {
		return fmt.Errorf("queue/inmem: marshal failure result for %q: %w", jobID, err)
	}
	q.results[jobID] = raw
	return nil
}

// popProcessingLocked removes jobID from workerID's processing list. The
// caller must hold q.mu.
func (q *Queue) popProcessingLocked(workerID, jobID string) {
	w, ok := q.workers[workerID]
	if !ok {
		return
	}
	for el := w.processing.Front(); el != nil; el = el.Next() {
		if el.Value.(*queue.Job).ID == jobID {
			w.processing.Remove(el)
			return
		}
	}
}

// Heartbeat implements queue.Queue.
func (q *Queue) Heartbeat(_ context.Context, workerID string, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, ok := q.workers[workerID]
	if !ok {
		w = &workerState{processing: list.New()}
		q.workers[workerID] = w
	}
	w.deadline = time.Now().Add(ttl)
	return nil
}

// RecoverDeadWorkers implements queue.Queue.
func (q *Queue) RecoverDeadWorkers(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var recovered []string
	for workerID, w := range q.workers {
		if w.processing.Len() == 0 {
			continue
		}
		if !w.deadline.IsZero() && w.deadline.After(now) {
			continue
		}
		for el := w.processing.Front(); el != nil; el = el.Next() {
			job := el.Value.(*queue.Job)
			job.Status = queue.StatusPending
			job.UpdatedAt = now.UTC()
			q.pending.PushBack(job)
		}
		w.processing.Init()
		q.wakeLocked()
		recovered = append(recovered, workerID)
	}
	return recovered, nil
}

// FetchResult implements queue.Queue.
func (q *Queue) FetchResult(_ context.Context, jobID string) (json.RawMessage, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	raw, ok := q.results[jobID]
	return raw, ok, nil
}

// Status implements queue.Queue.
func (q *Queue) Status(_ context.Context, jobID string) (queue.Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return "", fmt.Errorf("queue/inmem: job %q not found", jobID)
	}
	return job.Status, nil
}

// Length implements queue.Queue.
func (q *Queue) Length(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.pending.Len()), nil
}
