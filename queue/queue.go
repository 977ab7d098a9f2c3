// Package queue defines a distributed job queue abstraction, grounded on
// original_source/oao/runtime/distributed_scheduler.py's DistributedScheduler:
// jobs are submitted to a shared queue, fetched by worker id into a
// per-worker processing list (the reliable-queue pattern), and finished
// with either Complete or Fail. Fail requeues the job while retries remain,
// matching the original's retries_left decrement-and-requeue behavior.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Status mirrors distributed_scheduler.py's JobStatus enum.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Job is one unit of distributed work.
type Job struct {
	ID          string          `json:"job_id"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	RetriesLeft int             `json:"retries_left"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Queue is a reliable, worker-addressable job queue.
type Queue interface {
	// Submit enqueues payload as a new job with the given number of
	// allowed retries and returns its id.
	Submit(ctx context.Context, payload json.RawMessage, retries int) (jobID string, err error)

	// Fetch moves the next available job onto workerID's processing list
	// and returns it, blocking up to timeout if the queue is empty.
	// Fetch returns (nil, nil) on a timeout with no job available.
	Fetch(ctx context.Context, workerID string, timeout time.Duration) (*Job, error)

	// Complete removes jobID from workerID's processing list and records
	// result against it.
	Complete(ctx context.Context, workerID, jobID string, result any) error

	// Fail removes jobID from workerID's processing list. If the job has
	// retries remaining, it is requeued with RetriesLeft decremented;
	// otherwise it is recorded as permanently failed with errMsg.
	Fail(ctx context.Context, workerID, jobID string, errMsg string) error

	// Heartbeat marks workerID alive for ttl. A worker whose heartbeat
	// expires while it still holds a non-empty processing list is
	// considered dead by RecoverDeadWorkers.
	Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error

	// RecoverDeadWorkers requeues every job held by a worker with no live
	// heartbeat, returning the ids of the workers it recovered.
	RecoverDeadWorkers(ctx context.Context) ([]string, error)

	// FetchResult returns the stored result for jobID, if any.
	FetchResult(ctx context.Context, jobID string) (json.RawMessage, bool, error)

	// Status returns jobID's current status.
	Status(ctx context.Context, jobID string) (Status, error)

	// Length returns the number of jobs currently pending (not yet
	// fetched by any worker).
	Length(ctx context.Context) (int64, error)
}
