// Package inmem provides a goroutine-and-channel Engine, grounded on
// goa-ai's runtime/agent/engine/inmem.eng: one goroutine per started
// workflow, Future resolved by a closed-on-completion channel, and
// SignalChannel backed by a per-signal buffered channel. Unlike the
// teacher's version (coupled to a deleted agent/api package), activity
// results here are plain any values: a *any destination receives them
// directly, and any other pointer destination is filled by reflection
// (see assignResult).
package inmem

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/yashsham/open-agent-orchestrator/engine"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
)

// Engine implements engine.Engine entirely in memory, with no durability:
// a process crash loses all in-flight workflow goroutines. Pair with the
// recovery manager at the orchestrator layer for durability across
// restarts.
type Engine struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu         sync.Mutex
	workflows  map[string]engine.WorkflowDefinition
	activities map[string]engine.ActivityDefinition
}

// New constructs an Engine. Any of the telemetry bundle may be left nil,
// in which case Noop implementations are used.
func New(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *Engine {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	return &Engine{
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]engine.ActivityDefinition),
	}
}

// RegisterWorkflow implements engine.Engine.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("engine/inmem: workflow name cannot be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.Name]; exists {
		return fmt.Errorf("engine/inmem: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

// RegisterActivity implements engine.Engine.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("engine/inmem: activity name cannot be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[def.Name] = def
	return nil
}

// StartWorkflow implements engine.Engine, running the workflow handler in
// a dedicated goroutine.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.Lock()
	def, ok := e.workflows[req.Workflow]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine/inmem: workflow %q is not registered", req.Workflow)
	}

	runCtx, cancel := context.WithCancel(ctx)
	wctx := &workflowContext{
		ctx:      runCtx,
		id:       req.ID,
		runID:    req.ID,
		engine:   e,
		logger:   e.logger,
		metrics:  e.metrics,
		tracer:   e.tracer,
		signals:  make(map[string]*signalChannel),
	}

	h := &handle{done: make(chan struct{}), cancel: cancel, wctx: wctx}
	go func() {
		defer close(h.done)
		result, err := def.Handler(wctx, req.Input)
		h.result, h.err = result, err
	}()
	return h, nil
}

type handle struct {
	done   chan struct{}
	cancel context.CancelFunc
	wctx   *workflowContext

	result any
	err    error
}

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if h.err != nil {
		return h.err
	}
	return assignResult(result, h.result)
}

func (h *handle) Signal(_ context.Context, name string, payload any) error {
	h.wctx.mu.Lock()
	sc, ok := h.wctx.signals[name]
	if !ok {
		sc = &signalChannel{ch: make(chan any, 1)}
		h.wctx.signals[name] = sc
	}
	h.wctx.mu.Unlock()
	select {
	case sc.ch <- payload:
		return nil
	default:
		return fmt.Errorf("engine/inmem: signal %q buffer full", name)
	}
}

func (h *handle) Cancel(context.Context) error {
	h.cancel()
	return nil
}

type workflowContext struct {
	ctx     context.Context
	id      string
	runID   string
	engine  *Engine
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu      sync.Mutex
	signals map[string]*signalChannel
}

func (w *workflowContext) Context() context.Context   { return w.ctx }
func (w *workflowContext) WorkflowID() string         { return w.id }
func (w *workflowContext) RunID() string              { return w.runID }
func (w *workflowContext) Logger() telemetry.Logger   { return w.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.tracer }
func (w *workflowContext) Now() time.Time             { return time.Now() }

func (w *workflowContext) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	w.engine.mu.Lock()
	def, ok := w.engine.activities[req.Name]
	w.engine.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine/inmem: activity %q is not registered", req.Name)
	}
	activityCtx := engine.WithWorkflowContext(ctx, w)
	out, err := def.Handler(activityCtx, req.Input)
	if err != nil {
		return err
	}
	return assignResult(result, out)
}

func (w *workflowContext) ExecuteActivityAsync(ctx context.Context, req engine.ActivityRequest) (engine.Future, error) {
	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		var result any
		f.err = w.ExecuteActivity(ctx, req, &result)
		f.result = result
	}()
	return f, nil
}

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.signals[name]
	if !ok {
		sc = &signalChannel{ch: make(chan any, 1)}
		w.signals[name] = sc
	}
	return sc
}

type future struct {
	ready  chan struct{}
	result any
	err    error
}

func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-f.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	return assignResult(result, f.result)
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

type signalChannel struct{ ch chan any }

func (s *signalChannel) Receive(ctx context.Context, dest any) error {
	select {
	case v := <-s.ch:
		return assignResult(dest, v)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		return assignResult(dest, v) == nil
	default:
		return false
	}
}

// assignResult copies src into *dst. dst is usually a *any, in which case
// the copy is direct; callers that pass a pointer to a concrete type (as
// goa-ai's assignResult does for typed activity results) fall through to a
// reflective assignment, so a *string receiving a string result works
// without the caller round-tripping through any. A workflow handler
// returning a *T (e.g. orchestrator.Run's *report.ExecutionReport) into a
// *T destination is also handled by dereferencing src once.
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
		return fmt.Errorf("engine/inmem: result destination must be a non-nil pointer, got %T", dst)
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return nil
	}
	// Workflow handlers commonly return a *T (e.g. orchestrator.Run's
	// *report.ExecutionReport) into a destination that is itself *T, not **T.
	if sv.Kind() == reflect.Ptr && !sv.IsNil() && sv.Elem().Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv.Elem())
		return nil
	}
	return fmt.Errorf("engine/inmem: cannot assign result of type %T to destination %T", src, dst)
}
