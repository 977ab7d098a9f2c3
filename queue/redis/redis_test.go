package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/queue"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return New(client), mr
}

func TestSubmitFetchComplete(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
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

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusRunning, status)

	require.NoError(t, q.Complete(ctx, "worker-1", id, map[string]string{"ok": "yes"}))

	status, err = q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSuccess, status)

	result, ok, err := q.FetchResult(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, string(result), `"ok":"yes"`)
}

func TestFetchReturnsNilOnTimeout(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	job, err := q.Fetch(context.Background(), "worker-1", 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestFailRequeuesWhileRetriesRemain(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, json.RawMessage(`{}`), 1)
	require.NoError(t, err)

	_, err = q.Fetch(ctx, "worker-1", time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, "worker-1", id, "boom"))

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, status)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	job, err := q.Fetch(ctx, "worker-2", time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, job.RetriesLeft)

	require.NoError(t, q.Fail(ctx, "worker-2", id, "boom again"))
	status, err = q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusFailed, status)

	result, ok, err := q.FetchResult(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, string(result), "boom again")
}

func TestRecoverDeadWorkersRequeuesOrphanedJobs(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, json.RawMessage(`{}`), 1)
	require.NoError(t, err)

	_, err = q.Fetch(ctx, "worker-1", time.Second)
	require.NoError(t, err)

	recovered, err := q.RecoverDeadWorkers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"worker-1"}, recovered)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, status)
}

func TestHeartbeatProtectsWorkerFromRecovery(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
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
