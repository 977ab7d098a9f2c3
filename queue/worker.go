package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yashsham/open-agent-orchestrator/telemetry"
)

// Handler processes one job's payload and returns its result, or an error
// if the job failed.
type Handler func(ctx context.Context, job *Job) (result any, err error)

// WorkerOptions configures a Worker loop.
type WorkerOptions struct {
	// WorkerID identifies this worker's processing list and heartbeat key.
	WorkerID string
	// FetchTimeout bounds how long Fetch blocks waiting for a job before
	// the loop re-checks ctx and loops again. Defaults to 5s.
	FetchTimeout time.Duration
	// HeartbeatInterval is how often the worker renews its liveness key.
	// Defaults to 5s.
	HeartbeatInterval time.Duration
	// HeartbeatTTL is the liveness key's expiry. Defaults to 3x
	// HeartbeatInterval so one or two missed beats don't falsely mark the
	// worker dead. Must exceed HeartbeatInterval.
	HeartbeatTTL time.Duration
	Telemetry    telemetry.Bundle
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 5 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.HeartbeatTTL <= 0 {
		o.HeartbeatTTL = 3 * o.HeartbeatInterval
	}
	if o.Telemetry.Logger == nil {
		o.Telemetry = telemetry.NoopBundle()
	}
	return o
}

// Worker repeatedly fetches jobs from a Queue and runs them through a
// Handler, renewing its heartbeat on a fixed interval so RecoverDeadWorkers
// can tell a paused worker apart from a crashed one.
type Worker struct {
	Queue   Queue
	Handler Handler
	Options WorkerOptions
}

// Run drives the fetch/handle loop and a concurrent heartbeat loop until
// ctx is canceled. It returns ctx.Err() on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	opts := w.Options.withDefaults()
	logger := opts.Telemetry.Logger

	// Establish the liveness key before fetching any job: otherwise a job
	// could already be in this worker's processing list while
	// RecoverDeadWorkers still sees no heartbeat for it, and requeue (and
	// double-process) a job that's actively running.
	if err := w.Queue.Heartbeat(ctx, opts.WorkerID, opts.HeartbeatTTL); err != nil {
		logger.Error(ctx, "queue: initial heartbeat failed", "worker_id", opts.WorkerID, "error", err)
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.heartbeatLoop(ctx, opts)
	}()

	for {
		select {
		case <-ctx.Done():
			<-heartbeatDone
			return ctx.Err()
		default:
		}

		job, err := w.Queue.Fetch(ctx, opts.WorkerID, opts.FetchTimeout)
		if err != nil {
			if ctx.Err() != nil {
				<-heartbeatDone
				return ctx.Err()
			}
			logger.Error(ctx, "queue: fetch failed", "worker_id", opts.WorkerID, "error", err)
			continue
		}
		if job == nil {
			continue
		}

		w.handle(ctx, opts, job)
	}
}

func (w *Worker) handle(ctx context.Context, opts WorkerOptions, job *Job) {
	logger := opts.Telemetry.Logger

	result, err := w.Handler(ctx, job)
	if err != nil {
		logger.Warn(ctx, "queue: job handler failed", "worker_id", opts.WorkerID, "job_id", job.ID, "error", err)
		if failErr := w.Queue.Fail(ctx, opts.WorkerID, job.ID, err.Error()); failErr != nil {
			logger.Error(ctx, "queue: fail job", "worker_id", opts.WorkerID, "job_id", job.ID, "error", failErr)
		}
		return
	}

	if completeErr := w.Queue.Complete(ctx, opts.WorkerID, job.ID, result); completeErr != nil {
		logger.Error(ctx, "queue: complete job", "worker_id", opts.WorkerID, "job_id", job.ID, "error", completeErr)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context, opts WorkerOptions) {
	ticker := time.NewTicker(opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Queue.Heartbeat(ctx, opts.WorkerID, opts.HeartbeatTTL); err != nil {
				opts.Telemetry.Logger.Error(ctx, "queue: heartbeat failed", "worker_id", opts.WorkerID, "error", err)
			}
		}
	}
}

// Reaper periodically calls Queue.RecoverDeadWorkers, logging each recovery
// round, until ctx is canceled.
type Reaper struct {
	Queue     Queue
	Interval  time.Duration
	Telemetry telemetry.Bundle
}

// Run drives the reap loop until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	logger := r.Telemetry.Logger
	if logger == nil {
		logger = telemetry.NoopBundle().Logger
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			recovered, err := r.Queue.RecoverDeadWorkers(ctx)
			if err != nil {
				logger.Error(ctx, "queue: recover dead workers failed", "error", err)
				continue
			}
			if len(recovered) > 0 {
				logger.Info(ctx, "queue: recovered dead workers", "workers", recovered)
			}
		}
	}
}

// EncodePayload is a small convenience for submitting structured payloads
// without each caller re-implementing json.Marshal error wrapping.
func EncodePayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
