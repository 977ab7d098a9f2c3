// Package dag's GraphExecutor drives a TaskGraph's levels through fresh
// orchestrator.Orchestrator runs, grounded on
// original_source/oao/runtime/dag.py's GraphExecutor.execute_async: level
// by level, nodes within a level run concurrently and the next level only
// starts once every node of the current level has produced a terminal
// event. Bounded concurrency uses golang.org/x/sync/semaphore.Weighted
// rather than a hand-rolled worker pool, per spec.md §4.8.
package dag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/yashsham/open-agent-orchestrator/orchestrator"
	"github.com/yashsham/open-agent-orchestrator/report"
	"github.com/yashsham/open-agent-orchestrator/snapshot"
)

// AgentResolver returns the Agent implementation a named node should run
// under.
type AgentResolver func(agentName string) (orchestrator.Agent, error)

// NewOrchestrator builds a fresh Orchestrator for one node's run. Each
// node gets its own Orchestrator instance (and therefore its own
// execution id), matching the original's "create an orchestrator for this
// task" per-node construction.
type NewOrchestrator func(agent orchestrator.Agent) *orchestrator.Orchestrator

// GraphExecutor executes a TaskGraph with dependency-aware, bounded
// concurrency.
type GraphExecutor struct {
	Graph           *TaskGraph
	Resolve         AgentResolver
	NewOrchestrator NewOrchestrator
	MaxConcurrency  int64
}

// NodeResult pairs a node's name with the outcome of running it.
type NodeResult struct {
	Name   string
	Result *report.ExecutionReport
	Err    error
}

// Execute runs graph's levels in order, returning every node's result
// keyed by name. If any node in a level fails, Execute stops before
// starting the next level and returns the partial results gathered so far
// alongside the first error encountered.
func (e *GraphExecutor) Execute(ctx context.Context, task string) (map[string]NodeResult, error) {
	if err := e.Graph.Validate(); err != nil {
		return nil, err
	}
	levels, err := e.Graph.GetExecutionOrder()
	if err != nil {
		return nil, err
	}

	maxConcurrency := e.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}
	sem := semaphore.NewWeighted(maxConcurrency)

	results := make(map[string]NodeResult, len(e.Graph.nodes))
	for _, level := range levels {
		levelResults, err := e.runLevel(ctx, sem, level, task)
		for name, r := range levelResults {
			results[name] = r
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (e *GraphExecutor) runLevel(ctx context.Context, sem *semaphore.Weighted, level []string, task string) (map[string]NodeResult, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]NodeResult, len(level))
		firstErr error
	)

	for _, name := range level {
		node, err := e.Graph.GetNode(name)
		if err != nil {
			return nil, err
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return results, fmt.Errorf("dag: acquire concurrency slot for %q: %w", name, err)
		}

		wg.Add(1)
		go func(node *TaskNode) {
			defer wg.Done()
			defer sem.Release(1)

			r := e.runNode(ctx, node, task)

			mu.Lock()
			results[node.Name] = r
			if r.Err != nil && firstErr == nil {
				firstErr = r.Err
			}
			mu.Unlock()
		}(node)
	}

	wg.Wait()
	return results, firstErr
}

func (e *GraphExecutor) runNode(ctx context.Context, node *TaskNode, task string) NodeResult {
	agent, err := e.Resolve(node.Agent)
	if err != nil {
		return NodeResult{Name: node.Name, Err: fmt.Errorf("dag: resolve agent for %q: %w", node.Name, err)}
	}

	augmented := augmentTask(task, e.Graph, node)
	snap, err := snapshot.New(augmented, map[string]any{}, map[string]any{"agent": node.Agent}, nil)
	if err != nil {
		return NodeResult{Name: node.Name, Err: fmt.Errorf("dag: build snapshot for %q: %w", node.Name, err)}
	}

	orch := e.NewOrchestrator(agent)
	result, err := orch.Run(ctx, orchestrator.RunRequest{Task: augmented, Snapshot: snap})
	if err != nil {
		return NodeResult{Name: node.Name, Err: fmt.Errorf("dag: run %q: %w", node.Name, err)}
	}

	node.Result = result.FinalOutput
	return NodeResult{Name: node.Name, Result: result}
}

// augmentTask appends the final outputs of node's direct dependencies, in
// declaration order, to task — mirroring the original's "Context from
// previous tasks" suffix.
func augmentTask(task string, graph *TaskGraph, node *TaskNode) string {
	if len(node.Dependencies) == 0 {
		return task
	}
	var b strings.Builder
	b.WriteString(task)
	b.WriteString("\n\nContext from previous tasks:\n")
	for _, dep := range node.Dependencies {
		depNode := graph.nodes[dep]
		if depNode == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", dep, depNode.Result)
	}
	return b.String()
}
