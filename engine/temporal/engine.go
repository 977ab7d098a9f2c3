// Package temporal adapts engine.Engine onto the Temporal Go SDK, grounded
// on goa-ai's runtime/agent/engine/temporal.Engine: one worker per task
// queue, workflow/activity definitions registered by name, and
// client.WorkflowRun wrapped as an engine.WorkflowHandle. Unlike the
// teacher, this adapter does not wire go.temporal.io/sdk/contrib/opentelemetry
// interceptors: tracing/metrics for a Temporal-backed
// execution instead flow through the orchestrator's own telemetry.Bundle,
// which every lifecycle transition already reports through regardless of
// which Engine is driving it.
package temporal

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yashsham/open-agent-orchestrator/engine"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
)

// Options configures an Engine.
type Options struct {
	// Client is a connected Temporal client. Required.
	Client client.Client
	// TaskQueue is the single task queue this Engine's worker polls.
	// Mirrors the teacher's per-queue worker bundle, simplified to one
	// queue per Engine instance since this runtime starts exactly one
	// workflow type (the orchestrator loop) per execution.
	TaskQueue string
	// WorkerOptions tunes the underlying worker.Worker.
	WorkerOptions worker.Options
	// Telemetry is surfaced through the WorkflowContext handed to workflow
	// handlers; it is not wired into the Temporal SDK's own interceptor
	// chain.
	Telemetry telemetry.Bundle
}

// Engine implements engine.Engine against a single Temporal task queue.
type Engine struct {
	client    client.Client
	taskQueue string
	worker    worker.Worker
	telemetry telemetry.Bundle
}

// New constructs an Engine bound to opts.TaskQueue. Call Worker().Start to
// begin polling once every workflow/activity this process owns has been
// registered.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("engine/temporal: Client is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("engine/temporal: TaskQueue is required")
	}
	t := opts.Telemetry
	if t.Logger == nil {
		t.Logger = telemetry.NoopLogger{}
	}
	if t.Metrics == nil {
		t.Metrics = telemetry.NoopMetrics{}
	}
	if t.Tracer == nil {
		t.Tracer = telemetry.NoopTracer{}
	}
	return &Engine{
		client:    opts.Client,
		taskQueue: opts.TaskQueue,
		worker:    worker.New(opts.Client, opts.TaskQueue, opts.WorkerOptions),
		telemetry: t,
	}, nil
}

// RegisterWorkflow implements engine.Engine by wrapping def.Handler in a
// Temporal-compliant workflow function that bridges workflow.Context into
// engine.WorkflowContext.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("engine/temporal: workflow name cannot be empty")
	}
	handler := def.Handler
	e.worker.RegisterWorkflowWithOptions(func(wfCtx workflow.Context, input any) (any, error) {
		wctx := &workflowContext{wfCtx: wfCtx, engine: e}
		return handler(wctx, input)
	}, workflow.RegisterOptions{Name: def.Name})
	return nil
}

// RegisterActivity implements engine.Engine. Activities already receive a
// plain context.Context from the SDK, so def.Handler is registered
// directly with no bridging.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("engine/temporal: activity name cannot be empty")
	}
	e.worker.RegisterActivityWithOptions(func(ctx context.Context, input any) (any, error) {
		return def.Handler(ctx, input)
	}, activity.RegisterOptions{Name: def.Name})
	return nil
}

// StartWorkflow implements engine.Engine by starting a Temporal workflow
// execution on this Engine's task queue.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        req.ID,
		TaskQueue: e.taskQueue,
	}, req.Workflow, req.Input)
	if err != nil {
		return nil, fmt.Errorf("engine/temporal: start workflow %q: %w", req.Workflow, err)
	}
	return &workflowHandle{client: e.client, run: run}, nil
}

// WorkerController starts and stops this Engine's worker.
type WorkerController struct{ e *Engine }

// Worker returns a controller for this Engine's single worker.
func (e *Engine) Worker() *WorkerController { return &WorkerController{e: e} }

// Start begins polling the task queue. Blocks until the process receives
// an interrupt signal (worker.InterruptCh), Stop is called, or an
// unrecoverable worker error occurs.
func (c *WorkerController) Start() error {
	return c.e.worker.Run(worker.InterruptCh())
}

// Stop requests the worker to stop polling and drain in-flight tasks.
func (c *WorkerController) Stop() { c.e.worker.Stop() }

// Close releases the underlying Temporal client.
func (e *Engine) Close() { e.client.Close() }

type workflowHandle struct {
	client client.Client
	run    client.WorkflowRun
}

func (h *workflowHandle) Wait(ctx context.Context, result any) error {
	var out any
	if err := h.run.Get(ctx, &out); err != nil {
		return err
	}
	return assignResult(result, out)
}

func (h *workflowHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

type workflowContext struct {
	wfCtx  workflow.Context
	engine *Engine

	doneOnce sync.Once
	doneCh   chan struct{}
}

// ensureDone lazily starts a deterministic coroutine that closes doneCh
// once the workflow's own Done channel fires, bridging Temporal's
// workflow.Channel into a stdlib <-chan struct{} for deterministicContext.
func (w *workflowContext) ensureDone() chan struct{} {
	w.doneOnce.Do(func() {
		w.doneCh = make(chan struct{})
		workflow.Go(w.wfCtx, func(ctx workflow.Context) {
			ctx.Done().Receive(ctx, nil)
			close(w.doneCh)
		})
	})
	return w.doneCh
}

func (w *workflowContext) Context() context.Context   { return deterministicContext{wf: w} }
func (w *workflowContext) WorkflowID() string         { return workflow.GetInfo(w.wfCtx).WorkflowExecution.ID }
func (w *workflowContext) RunID() string              { return workflow.GetInfo(w.wfCtx).WorkflowExecution.RunID }
func (w *workflowContext) Logger() telemetry.Logger   { return w.engine.telemetry.Logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.engine.telemetry.Metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.engine.telemetry.Tracer }
func (w *workflowContext) Now() time.Time             { return workflow.Now(w.wfCtx) }

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	actCtx := workflow.WithActivityOptions(w.wfCtx, activityOptions(req))
	var out any
	if err := workflow.ExecuteActivity(actCtx, req.Name, req.Input).Get(actCtx, &out); err != nil {
		return err
	}
	return assignResult(result, out)
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	actCtx := workflow.WithActivityOptions(w.wfCtx, activityOptions(req))
	return &future{wfCtx: actCtx, future: workflow.ExecuteActivity(actCtx, req.Name, req.Input)}, nil
}

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return &signalChannel{wfCtx: w.wfCtx, ch: workflow.GetSignalChannel(w.wfCtx, name)}
}

func activityOptions(req engine.ActivityRequest) workflow.ActivityOptions {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ao := workflow.ActivityOptions{StartToCloseTimeout: timeout}
	if req.RetryPolicy.MaxAttempts > 0 {
		ao.RetryPolicy = &sdktemporal.RetryPolicy{
			InitialInterval:    req.RetryPolicy.InitialInterval,
			BackoffCoefficient: req.RetryPolicy.BackoffCoefficient,
			MaximumAttempts:    int32(req.RetryPolicy.MaxAttempts),
		}
	}
	return ao
}

type future struct {
	wfCtx  workflow.Context
	future workflow.Future
}

func (f *future) Get(_ context.Context, result any) error {
	var out any
	if err := f.future.Get(f.wfCtx, &out); err != nil {
		return err
	}
	return assignResult(result, out)
}

func (f *future) IsReady() bool { return f.future.IsReady() }

type signalChannel struct {
	wfCtx workflow.Context
	ch    workflow.ReceiveChannel
}

func (s *signalChannel) Receive(_ context.Context, dest any) error {
	var payload any
	s.ch.Receive(s.wfCtx, &payload)
	return assignResult(dest, payload)
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	var payload any
	ok := s.ch.ReceiveAsync(&payload)
	if !ok {
		return false
	}
	return assignResult(dest, payload) == nil
}

// deterministicContext bridges a workflow.Context's Done/Err/Deadline/Value
// into the stdlib context.Context interface so WorkflowContext.Context()
// can satisfy the engine package's Engine-agnostic signature. It must never
// be passed back into a Temporal SDK call (ExecuteActivity, signal
// channels, ...), which all require the underlying workflow.Context
// instead; those calls go through the methods on workflowContext, not
// through this bridge.
type deterministicContext struct {
	wf *workflowContext
}

func (d deterministicContext) Deadline() (time.Time, bool) { return d.wf.wfCtx.Deadline() }
func (d deterministicContext) Done() <-chan struct{}       { return d.wf.ensureDone() }
func (d deterministicContext) Err() error                  { return d.wf.wfCtx.Err() }
func (d deterministicContext) Value(key any) any           { return d.wf.wfCtx.Value(key) }

// assignResult copies src into *dst, where dst is usually a *any. A
// pointer to a concrete type is also accepted via reflection, so a
// strongly typed activity result can be received without round-tripping
// through any.
func assignResult(dst any, src any) error {
	if dst == nil {
		return nil
	}
	if d, ok := dst.(*any); ok {
		*d = src
		return nil
	}
	if src == nil {
		return nil
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("engine/temporal: result destination must be a non-nil pointer, got %T", dst)
	}
	sv := reflect.ValueOf(src)
	if !sv.Type().AssignableTo(dv.Elem().Type()) {
		return fmt.Errorf("engine/temporal: cannot assign result of type %T to destination %T", src, dst)
	}
	dv.Elem().Set(sv)
	return nil
}
