// Package engine abstracts workflow registration and execution so the
// orchestrator's loop can run unmodified against an in-memory engine or
// Temporal. It is grounded on goa-ai's runtime/agent/engine.Engine: the
// interfaces here are a direct generalization, with telemetry swapped for
// this module's own telemetry package. The orchestrator's durability
// guarantee comes from the event store, not from whichever Engine drives
// it (spec.md §4.9 design note on event-sourced replay being
// authoritative).
package engine

import (
	"context"
	"time"

	"github.com/yashsham/open-agent-orchestrator/telemetry"
)

type (
	// Engine registers workflow/activity definitions and starts workflow
	// executions. Implementations translate these generic types into
	// backend-specific primitives (goroutines, Temporal workflows, ...).
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name.
	WorkflowDefinition struct {
		Name    string
		Handler WorkflowFunc
	}

	// WorkflowFunc is the orchestrator's loop entry point.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to the orchestrator loop.
	// Implementations must ensure deterministic replay where the backend
	// requires it (Temporal); the in-memory engine has no such constraint.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)
		SignalChannel(name string) SignalChannel
		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer
		Now() time.Time
	}

	// Future represents a pending activity result.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs a side-effecting unit of work (adapter calls,
	// tool invocations).
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout behavior for an activity.
	ActivityOptions struct {
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID       string
		Workflow string
		Input    any
	}

	// ActivityRequest schedules one activity invocation from a workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets callers wait for, signal, or cancel a running
	// workflow.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy controls engine-level retries, distinct from the
	// domain-level retry package used inside activity handlers.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes external signal delivery (e.g. cancellation,
	// human input) in an engine-agnostic way.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)

type contextKey int

const workflowContextKey contextKey = iota

// WithWorkflowContext attaches wc to ctx so activity handlers invoked
// through it can recover the originating WorkflowContext.
func WithWorkflowContext(ctx context.Context, wc WorkflowContext) context.Context {
	return context.WithValue(ctx, workflowContextKey, wc)
}

// WorkflowContextFromContext recovers a WorkflowContext attached by
// WithWorkflowContext, if any.
func WorkflowContextFromContext(ctx context.Context) (WorkflowContext, bool) {
	wc, ok := ctx.Value(workflowContextKey).(WorkflowContext)
	return wc, ok
}
