package inmem

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/queue"
)

func TestSubmitFetchComplete(t *testing.T) {
	t.Parallel()

	q := New()
	ctx := context.Background()

	id, err := q.Submit(ctx, json.RawMessage(`{"task":"x"}`), 3)
	require.NoError(t, err)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	job, err := q.Fetch(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, id, job.ID)
	require.Equal(t, queue.StatusRunning, job.Status)

	n, err = q.Length(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, q.Complete(ctx, "worker-1", id, map[string]string{"ok": "yes"}))

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSuccess, status)

	result, ok, err := q.FetchResult(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"ok":"yes"}`, string(result))
}

func TestFetchTimesOutWhenEmpty(t *testing.T) {
	t.Parallel()

	q := New()
	job, err := q.Fetch(context.Background(), "worker-1", 10*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestFailRequeuesWhileRetriesRemain(t *testing.T) {
	t.Parallel()

	q := New()
	ctx := context.Background()

	id, err := q.Submit(ctx, json.RawMessage(`{}`), 1)
	require.NoError(t, err)

	job, err := q.Fetch(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, q.Fail(ctx, "worker-1", id, "boom"))

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, status)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	job, err = q.Fetch(ctx, "worker-2", time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, job.RetriesLeft)

	require.NoError(t, q.Fail(ctx, "worker-2", id, "boom again"))
	status, err = q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusFailed, status)
}

func TestRecoverDeadWorkersRequeuesOrphanedJobs(t *testing.T) {
	t.Parallel()

	q := New()
	ctx := context.Background()

	id, err := q.Submit(ctx, json.RawMessage(`{}`), 1)
	require.NoError(t, err)

	_, err = q.Fetch(ctx, "worker-1", time.Second)
	require.NoError(t, err)

	// worker-1 never heartbeats, so it has a zero deadline and is
	// immediately eligible for recovery.
	recovered, err := q.RecoverDeadWorkers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"worker-1"}, recovered)

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, status)
}

func TestHeartbeatProtectsWorkerFromRecovery(t *testing.T) {
	t.Parallel()

	q := New()
	ctx := context.Background()

	_, err := q.Submit(ctx, json.RawMessage(`{}`), 1)
	require.NoError(t, err)
	_, err = q.Fetch(ctx, "worker-1", time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Heartbeat(ctx, "worker-1", time.Minute))

	recovered, err := q.RecoverDeadWorkers(ctx)
	require.NoError(t, err)
	require.Empty(t, recovered)
}
