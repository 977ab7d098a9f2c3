package dag

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/eventstore/inmem"
	"github.com/yashsham/open-agent-orchestrator/orchestrator"
	storeinmem "github.com/yashsham/open-agent-orchestrator/store/inmem"
)

type echoAgent struct{ name string }

func (a *echoAgent) Plan(_ context.Context, task string) (string, error) { return task, nil }
func (a *echoAgent) Execute(_ context.Context, plan string) (string, error) {
	return a.name + ":" + plan, nil
}
func (a *echoAgent) Review(_ context.Context, output string) (string, error) { return output, nil }

type failingAgent struct{ err error }

func (a *failingAgent) Plan(context.Context, string) (string, error)    { return "", a.err }
func (a *failingAgent) Execute(context.Context, string) (string, error) { return "", a.err }
func (a *failingAgent) Review(context.Context, string) (string, error)  { return "", a.err }

func newExecutorFor(g *TaskGraph, maxConcurrency int64, agents map[string]orchestrator.Agent) *GraphExecutor {
	return &GraphExecutor{
		Graph:          g,
		MaxConcurrency: maxConcurrency,
		Resolve: func(name string) (orchestrator.Agent, error) {
			a, ok := agents[name]
			if !ok {
				return nil, fmt.Errorf("no agent named %q", name)
			}
			return a, nil
		},
		NewOrchestrator: func(agent orchestrator.Agent) *orchestrator.Orchestrator {
			return &orchestrator.Orchestrator{
				Events: inmem.New(),
				Store:  storeinmem.New(),
				Agent:  agent,
			}
		},
	}
}

func TestExecuteRunsLevelsInDependencyOrder(t *testing.T) {
	t.Parallel()

	g := New()
	require.NoError(t, g.AddNode(&TaskNode{Name: "fetch", Agent: "fetch-agent"}))
	require.NoError(t, g.AddNode(&TaskNode{Name: "summarize", Agent: "summarize-agent", Dependencies: []string{"fetch"}}))

	executor := newExecutorFor(g, 2, map[string]orchestrator.Agent{
		"fetch-agent":     &echoAgent{name: "fetch"},
		"summarize-agent": &echoAgent{name: "summarize"},
	})

	results, err := executor.Execute(context.Background(), "gather news")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results["fetch"].Err)
	require.NoError(t, results["summarize"].Err)
	require.Contains(t, results["summarize"].Result.FinalOutput, "fetch:")
}

func TestExecuteHonorsMaxConcurrency(t *testing.T) {
	t.Parallel()

	g := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, g.AddNode(&TaskNode{Name: fmt.Sprintf("n%d", i), Agent: "a"}))
	}

	var inFlight, maxSeen int64
	agent := &concurrencyTrackingAgent{inFlight: &inFlight, maxSeen: &maxSeen}
	executor := newExecutorFor(g, 2, map[string]orchestrator.Agent{"a": agent})

	_, err := executor.Execute(context.Background(), "work")
	require.NoError(t, err)
	require.LessOrEqual(t, atomic.LoadInt64(&maxSeen), int64(2))
}

type concurrencyTrackingAgent struct {
	inFlight *int64
	maxSeen  *int64
}

func (a *concurrencyTrackingAgent) Plan(context.Context, string) (string, error) { return "plan", nil }
func (a *concurrencyTrackingAgent) Execute(context.Context, string) (string, error) {
	n := atomic.AddInt64(a.inFlight, 1)
	for {
		max := atomic.LoadInt64(a.maxSeen)
		if n <= max || atomic.CompareAndSwapInt64(a.maxSeen, max, n) {
			break
		}
	}
	atomic.AddInt64(a.inFlight, -1)
	return "done", nil
}
func (a *concurrencyTrackingAgent) Review(_ context.Context, output string) (string, error) {
	return output, nil
}

func TestExecuteStopsAtFailingLevel(t *testing.T) {
	t.Parallel()

	g := New()
	require.NoError(t, g.AddNode(&TaskNode{Name: "a", Agent: "bad"}))
	require.NoError(t, g.AddNode(&TaskNode{Name: "b", Agent: "bad", Dependencies: []string{"a"}}))

	boom := errors.New("agent boom")
	executor := newExecutorFor(g, 2, map[string]orchestrator.Agent{"bad": &failingAgent{err: boom}})

	results, err := executor.Execute(context.Background(), "work")
	require.Error(t, err)
	require.Contains(t, results, "a")
	require.NotContains(t, results, "b", "level b must never start once level a failed")
}

func TestExecuteRejectsCyclicGraph(t *testing.T) {
	t.Parallel()

	g := &TaskGraph{nodes: map[string]*TaskNode{
		"a": {Name: "a", Dependencies: []string{"b"}},
		"b": {Name: "b", Dependencies: []string{"a"}},
	}, order: []string{"a", "b"}}

	executor := newExecutorFor(g, 1, nil)
	_, err := executor.Execute(context.Background(), "work")
	require.Error(t, err)
}
