package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/queue"
	"github.com/yashsham/open-agent-orchestrator/queue/inmem"
)

func TestWorkerProcessesJobsUntilCanceled(t *testing.T) {
	t.Parallel()

	q := inmem.New()
	ctx := context.Background()

	id, err := q.Submit(ctx, json.RawMessage(`{"n":1}`), 0)
	require.NoError(t, err)

	var handled int64
	w := &queue.Worker{
		Queue: q,
		Handler: func(_ context.Context, job *queue.Job) (any, error) {
			atomic.AddInt64(&handled, 1)
			return map[string]string{"job_id": job.ID}, nil
		},
		Options: queue.WorkerOptions{
			WorkerID:          "worker-test",
			FetchTimeout:      20 * time.Millisecond,
			HeartbeatInterval: 10 * time.Millisecond,
		},
	}

	runCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()

	err = w.Run(runCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int64(1), atomic.LoadInt64(&handled))

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSuccess, status)
}

func TestWorkerFailsJobOnHandlerError(t *testing.T) {
	t.Parallel()

	q := inmem.New()
	ctx := context.Background()

	id, err := q.Submit(ctx, json.RawMessage(`{}`), 0)
	require.NoError(t, err)

	boom := errors.New("handler boom")
	w := &queue.Worker{
		Queue: q,
		Handler: func(context.Context, *queue.Job) (any, error) {
			return nil, boom
		},
		Options: queue.WorkerOptions{
			WorkerID:          "worker-test",
			FetchTimeout:      20 * time.Millisecond,
			HeartbeatInterval: 50 * time.Millisecond,
		},
	}

	runCtx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	_ = w.Run(runCtx)

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusFailed, status)
}

func TestReaperRecoversDeadWorkers(t *testing.T) {
	t.Parallel()

	q := inmem.New()
	ctx := context.Background()

	id, err := q.Submit(ctx, json.RawMessage(`{}`), 1)
	require.NoError(t, err)
	_, err = q.Fetch(ctx, "stuck-worker", time.Second)
	require.NoError(t, err)

	r := &queue.Reaper{Queue: q, Interval: 10 * time.Millisecond}
	runCtx, cancel := context.WithTimeout(ctx, 40*time.Millisecond)
	defer cancel()
	_ = r.Run(runCtx)

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, status)
}
