package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/eventmodel"
	"github.com/yashsham/open-agent-orchestrator/eventstore/inmem"
	"github.com/yashsham/open-agent-orchestrator/policy"
	"github.com/yashsham/open-agent-orchestrator/retry"
	"github.com/yashsham/open-agent-orchestrator/snapshot"
	storeinmem "github.com/yashsham/open-agent-orchestrator/store/inmem"
)

type stubAgent struct {
	planErr, executeErr, reviewErr error
	executeCalls                   int
}

func (a *stubAgent) Plan(context.Context, string) (string, error) {
	if a.planErr != nil {
		return "", a.planErr
	}
	return "plan", nil
}

func (a *stubAgent) Execute(context.Context, string) (string, error) {
	a.executeCalls++
	if a.executeErr != nil {
		return "", a.executeErr
	}
	return "output", nil
}

func (a *stubAgent) Review(_ context.Context, output string) (string, error) {
	if a.reviewErr != nil {
		return "", a.reviewErr
	}
	return "final:" + output, nil
}

func newTestOrchestrator(t *testing.T, agent Agent) (*Orchestrator, *inmem.Store) {
	t.Helper()
	events := inmem.New()
	return &Orchestrator{
		Events: events,
		Store:  storeinmem.New(),
		Agent:  agent,
	}, events
}

func testSnapshot(t *testing.T) *snapshot.ExecutionSnapshot {
	t.Helper()
	snap, err := snapshot.New("do the thing", map[string]any{}, map[string]any{}, nil)
	require.NoError(t, err)
	return snap
}

func TestRunCompletesHappyPath(t *testing.T) {
	t.Parallel()

	o, events := newTestOrchestrator(t, &stubAgent{})
	result, err := o.Run(context.Background(), RunRequest{
		ExecutionID: "exec-happy",
		Task:        "do the thing",
		Snapshot:    testSnapshot(t),
	})
	require.NoError(t, err)
	require.Equal(t, "final:output", result.FinalOutput)

	all, err := events.Get(context.Background(), result.ExecutionID, 0, -1)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	require.Equal(t, eventmodel.ExecutionStarted, all[0].Type)
	require.Equal(t, eventmodel.ExecutionCompleted, all[len(all)-1].Type)

	ids, err := o.Store.ListActiveExecutions(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids, "completed executions must be removed from the active set")
}

func TestRunFailsWhenPlanErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("plan boom")
	o, events := newTestOrchestrator(t, &stubAgent{planErr: boom})
	_, err := o.Run(context.Background(), RunRequest{
		ExecutionID: "exec-plan-fail",
		Task:        "x",
		Snapshot:    testSnapshot(t),
	})
	require.ErrorIs(t, err, boom)

	all, getErr := events.Get(context.Background(), "exec-plan-fail", 0, -1)
	require.NoError(t, getErr)
	require.NotEmpty(t, all)
	require.Equal(t, eventmodel.ExecutionFailed, all[len(all)-1].Type)
	require.Equal(t, "orchestrator: plan: "+boom.Error(), all[len(all)-1].Error)

	ids, listErr := o.Store.ListActiveExecutions(context.Background())
	require.NoError(t, listErr)
	require.Empty(t, ids, "failed executions must still be removed from the active set")
}

func TestRunRetriesExecuteBeforeFailing(t *testing.T) {
	t.Parallel()

	boom := errors.New("execute boom")
	agent := &stubAgent{executeErr: boom}
	o, _ := newTestOrchestrator(t, agent)

	_, err := o.Run(context.Background(), RunRequest{
		ExecutionID: "exec-retry-fail",
		Task:        "x",
		Snapshot:    testSnapshot(t),
		Policy: policy.Options{
			RetryConfig: retry.Config{
				MaxRetries:   2,
				InitialDelay: time.Millisecond,
				Strategy:     retry.Constant,
			},
		},
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, agent.executeCalls, "initial attempt plus MaxRetries retries")
}

func TestRunRejectsPolicyViolation(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, &stubAgent{})
	_, err := o.Run(context.Background(), RunRequest{
		ExecutionID: "exec-policy-violation",
		Task:        "x",
		Snapshot:    testSnapshot(t),
		Policy:      policy.Options{MaxSteps: 0, TimeoutSeconds: 0.0000001},
	})
	require.Error(t, err)

	ids, listErr := o.Store.ListActiveExecutions(context.Background())
	require.NoError(t, listErr)
	require.Empty(t, ids)
}

func TestRunResumesFromStep(t *testing.T) {
	t.Parallel()

	events := inmem.New()
	executionID := "resume-1"
	require.NoError(t, events.Append(context.Background(), &eventmodel.Event{
		ExecutionID: executionID, StepNumber: 0, Type: eventmodel.ExecutionStarted,
	}))
	require.NoError(t, events.Append(context.Background(), &eventmodel.Event{
		ExecutionID: executionID, StepNumber: 1, Type: eventmodel.StateEnter, State: "EXECUTE",
		CumulativeSteps: 1,
	}))

	agent := &stubAgent{}
	o := &Orchestrator{Events: events, Store: storeinmem.New(), Agent: agent}
	fromStep := int64(1)
	result, err := o.Run(context.Background(), RunRequest{
		ExecutionID: executionID,
		Task:        "resumed task",
		Snapshot:    testSnapshot(t),
		FromStep:    &fromStep,
	})
	require.NoError(t, err)
	require.Equal(t, "final:output", result.FinalOutput)

	all, err := events.Get(context.Background(), executionID, 0, -1)
	require.NoError(t, err)
	// Replay must not re-append EXECUTION_STARTED; the first two events
	// are the pre-seeded ones, and the loop continues from step 2 onward.
	require.Equal(t, eventmodel.ExecutionStarted, all[0].Type)
	require.Equal(t, eventmodel.StateEnter, all[1].Type)
	require.Equal(t, eventmodel.ExecutionCompleted, all[len(all)-1].Type)
}
