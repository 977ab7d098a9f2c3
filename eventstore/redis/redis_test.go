package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/eventmodel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return New(client)
}

func TestStoreAppendGetLatestCount(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		err := s.Append(ctx, &eventmodel.Event{
			ExecutionID: "exec-1",
			StepNumber:  i,
			Type:        eventmodel.StepCompleted,
			Timestamp:   time.Unix(i, 0).UTC(),
		})
		require.NoError(t, err)
	}

	events, err := s.Get(ctx, "exec-1", 0, -1)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, int64(0), events[0].StepNumber)
	require.Equal(t, int64(2), events[2].StepNumber)

	latest, err := s.Latest(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), latest.StepNumber)

	count, err := s.Count(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestStoreLatestNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Latest(context.Background(), "missing")
	require.Error(t, err)
}

func TestStoreReplayToState(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, &eventmodel.Event{
		ExecutionID: "exec-1", StepNumber: 0, Type: eventmodel.ExecutionStarted,
		CumulativeSteps: 0,
	}))
	require.NoError(t, s.Append(ctx, &eventmodel.Event{
		ExecutionID: "exec-1", StepNumber: 1, Type: eventmodel.StateEnter,
		State: "PLAN", CumulativeSteps: 1,
	}))

	state, err := s.ReplayToState(ctx, "exec-1", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), state.CurrentStep)
	require.Equal(t, "PLAN", state.CurrentState)
}

func TestStoreSubscribe(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ch, unsubscribe := s.Subscribe(ctx, "exec-1")
	defer unsubscribe()

	require.NoError(t, s.Append(ctx, &eventmodel.Event{
		ExecutionID: "exec-1", StepNumber: 0, Type: eventmodel.ExecutionStarted,
	}))

	select {
	case e := <-ch:
		require.Equal(t, eventmodel.ExecutionStarted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed event")
	}
}
