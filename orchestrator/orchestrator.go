// Package orchestrator drives a single Execution through its lifecycle
// state machine, grounded on goa-ai's engine.Engine/WorkflowContext
// abstraction (runtime/agent/engine/engine.go): the loop body below is
// engine-agnostic, registered as a WorkflowDefinition and run through
// whichever Engine (engine/inmem or engine/temporal) the caller supplies.
// Durability comes from the event store, not from the engine (spec.md
// §4.9): a crash mid-loop is recovered by replaying the event log, never
// by relying on engine-level persistence.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yashsham/open-agent-orchestrator/engine"
	"github.com/yashsham/open-agent-orchestrator/eventmodel"
	"github.com/yashsham/open-agent-orchestrator/eventstore"
	"github.com/yashsham/open-agent-orchestrator/policy"
	"github.com/yashsham/open-agent-orchestrator/report"
	"github.com/yashsham/open-agent-orchestrator/retry"
	"github.com/yashsham/open-agent-orchestrator/snapshot"
	"github.com/yashsham/open-agent-orchestrator/statemachine"
	"github.com/yashsham/open-agent-orchestrator/store"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
)

// WorkflowName is the logical name this package registers its loop under
// when run through an engine.Engine.
const WorkflowName = "oao.orchestrator.run"

// Agent performs the actual domain work for each lifecycle state: turning
// a task into a plan, executing the plan, and reviewing the final output.
// Implementations are the one piece of this package callers must supply;
// everything else (state machine, policy, retries, persistence) is fixed
// machinery around them.
type Agent interface {
	// Plan translates task into a plan description, invoked once while in
	// the PLAN state.
	Plan(ctx context.Context, task string) (plan string, err error)
	// Execute carries out plan, invoked while in the EXECUTE state under
	// the orchestrator's retry engine.
	Execute(ctx context.Context, plan string) (output string, err error)
	// Review canonicalizes the final output, invoked once while in the
	// REVIEW state.
	Review(ctx context.Context, output string) (final string, err error)
}

// RunRequest starts or resumes a single execution.
type RunRequest struct {
	// ExecutionID is reused verbatim if set (resume); otherwise a new one
	// is minted.
	ExecutionID string
	Task        string
	Snapshot    *snapshot.ExecutionSnapshot
	Policy      policy.Options
	// FromStep, if non-nil, triggers replay-to-state before the loop
	// starts and force-sets the state machine to EXECUTE, per spec.md
	// §4.7 step 2.
	FromStep *int64
}

// Orchestrator drives one Execution at a time. A fresh Orchestrator value
// is safe to reuse across many sequential Run calls; it holds no
// per-execution state itself (all of that lives in the event log, the
// store, and the closures a single Run builds).
type Orchestrator struct {
	Events    eventstore.Store
	Store     store.Store
	Agent     Agent
	Telemetry telemetry.Bundle
}

// RegisterWith registers this orchestrator's loop as a workflow on eng,
// so callers that want engine-mediated execution (e.g. Temporal) can start
// it via eng.StartWorkflow with a RunRequest as input.
func (o *Orchestrator) RegisterWith(ctx context.Context, eng engine.Engine) error {
	return eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: WorkflowName,
		Handler: func(wctx engine.WorkflowContext, input any) (any, error) {
			req, ok := input.(RunRequest)
			if !ok {
				return nil, fmt.Errorf("orchestrator: unexpected workflow input type %T", input)
			}
			return o.Run(wctx.Context(), req)
		},
	})
}

// Run drives req's execution synchronously to a terminal state, returning
// an ExecutionReport describing the outcome whether the execution completed,
// failed, or was stopped by a policy violation — the returned error is
// non-nil in the latter two cases. Async callers should instead start this
// package's WorkflowName workflow through an engine.Engine and await the
// returned handle; both entry points are semantically identical (spec.md
// §4.7).
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*report.ExecutionReport, error) {
	logger, metrics := o.telemetry()

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	specBytes, err := req.Snapshot.CanonicalJSON()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: canonicalize snapshot: %w", err)
	}
	hash, err := req.Snapshot.Hash()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: hash snapshot: %w", err)
	}
	if err := o.Store.SaveExecutionSpec(ctx, executionID, specBytes); err != nil {
		return nil, fmt.Errorf("orchestrator: save spec: %w", err)
	}
	if err := o.Store.RegisterActiveExecution(ctx, executionID); err != nil {
		return nil, fmt.Errorf("orchestrator: register active execution: %w", err)
	}

	pol, err := policy.New(req.Policy)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build policy: %w", err)
	}

	run := &run{
		o:            o,
		executionID:  executionID,
		task:         req.Task,
		policy:       pol,
		sm:           statemachine.New(logger),
		logger:       logger,
		metrics:      metrics,
		snapshotHash: hash,
	}

	if req.FromStep != nil {
		state, err := o.Events.ReplayToState(ctx, executionID, req.FromStep)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: replay to state: %w", err)
		}
		run.counters = counters{
			Steps:     state.CurrentStep,
			Tokens:    state.CumulativeTokens,
			ToolCalls: state.CumulativeToolCalls,
		}
		run.nextStep = state.CurrentStep + 1
		run.sm.ForceSet(ctx, statemachine.Execute)

		// Anchor the wall-clock budget to the original EXECUTION_STARTED
		// timestamp, not to now: otherwise every crash/resume cycle would
		// hand a resumed execution a fresh timeout window, letting its real
		// wall-clock duration grow unbounded across repeated recoveries.
		started, err := o.Events.Get(ctx, executionID, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: load EXECUTION_STARTED event: %w", err)
		}
		if len(started) == 0 {
			return nil, fmt.Errorf("orchestrator: no EXECUTION_STARTED event recorded for %q", executionID)
		}
		pol.StartTimerAt(started[0].Timestamp)
		run.startedAt = started[0].Timestamp
	} else {
		// EXECUTION_STARTED occupies step 0 on its own; the loop's first
		// STATE_ENTER starts at step 1, so the two never collide on the
		// same step number (eventstore/redis orders same-score members
		// lexicographically, not by append order, so a collision here
		// would make recovery's Get(ctx, id, 0, 0) ambiguous).
		run.nextStep = 1
		run.startedAt = time.Now()
		pol.StartTimerAt(run.startedAt)
		if err := run.appendEvent(ctx, eventmodel.ExecutionStarted, mustMarshal(startedPayload{
			SnapshotHash: hash,
			Task:         req.Task,
		}), nil); err != nil {
			return nil, fmt.Errorf("orchestrator: append EXECUTION_STARTED: %w", err)
		}
	}

	result, runErr := run.loop(ctx)

	if removeErr := o.Store.RemoveActiveExecution(context.WithoutCancel(ctx), executionID); removeErr != nil {
		logger.Error(ctx, "orchestrator: failed to remove execution from active set", "execution_id", executionID, "error", removeErr)
	}
	return result, runErr
}

func (o *Orchestrator) telemetry() (telemetry.Logger, telemetry.Metrics) {
	logger, metrics := o.Telemetry.Logger, o.Telemetry.Metrics
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	return logger, metrics
}

type counters struct {
	Steps     int64
	Tokens    int64
	ToolCalls int64
}

type startedPayload struct {
	SnapshotHash string `json:"snapshot_hash"`
	Task         string `json:"task"`
}

// run holds the mutable, single-execution state threaded through one
// Orchestrator.Run call. It is never shared across executions.
type run struct {
	o            *Orchestrator
	executionID  string
	task         string
	policy       *policy.Policy
	sm           *statemachine.StateMachine
	logger       telemetry.Logger
	metrics      telemetry.Metrics
	snapshotHash string
	startedAt    time.Time

	counters counters
	nextStep int64

	plan   string
	output string
	final  string
}

// loop implements spec.md §4.7 step 4-5: iterate the state machine until
// terminal, appending a STATE_ENTER checkpoint per iteration and
// dispatching the per-state handler, then append the single terminating
// event.
func (r *run) loop(ctx context.Context) (*report.ExecutionReport, error) {
	for !r.sm.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return r.terminateFailed(ctx, fmt.Errorf("orchestrator: canceled: %w", err))
		}

		if err := r.policy.Validate(ctx, policy.Context{
			StepCount:  r.counters.Steps,
			TokenUsage: r.counters.Tokens,
			ToolCalls:  r.counters.ToolCalls,
		}); err != nil {
			return r.terminatePolicyViolation(ctx, err)
		}

		state := r.sm.Current()
		step := r.consumeStep()
		if err := r.appendEvent(ctx, eventmodel.StateEnter, nil, nil); err != nil {
			return r.terminateFailed(ctx, fmt.Errorf("orchestrator: append STATE_ENTER: %w", err))
		}
		r.mirrorSafeContext(ctx, step)

		next, handlerErr := r.dispatch(ctx, state)
		if handlerErr != nil {
			return r.terminateFailed(ctx, handlerErr)
		}

		if err := r.sm.Transition(next); err != nil {
			return r.terminateFailed(ctx, fmt.Errorf("orchestrator: %w", err))
		}
	}

	// Every path that transitions to FAILED returns directly from the loop
	// body above with its own terminating event already appended; reaching
	// here means the state machine exited the loop via TERMINATE.
	return r.terminateCompleted(ctx)
}

func (r *run) consumeStep() int64 {
	step := r.nextStep
	r.nextStep++
	r.counters.Steps = step
	return step
}

// dispatch runs the handler for state and returns the next legal state.
func (r *run) dispatch(ctx context.Context, state statemachine.State) (statemachine.State, error) {
	switch state {
	case statemachine.Init:
		return statemachine.Plan, nil

	case statemachine.Plan:
		plan, err := r.o.Agent.Plan(ctx, r.task)
		if err != nil {
			return statemachine.Failed, fmt.Errorf("orchestrator: plan: %w", err)
		}
		r.plan = plan
		return statemachine.Execute, nil

	case statemachine.Execute:
		cfg := r.policy.RetryConfig()
		cfg.OnRetry = r.onRetry(ctx)
		var output string
		err := retry.Do(ctx, cfg, func(ctx context.Context) error {
			out, err := r.o.Agent.Execute(ctx, r.plan)
			if err != nil {
				return err
			}
			output = out
			return nil
		})
		if err != nil {
			return statemachine.Failed, fmt.Errorf("orchestrator: execute: %w", err)
		}
		r.output = output
		return statemachine.Review, nil

	case statemachine.Review:
		final, err := r.o.Agent.Review(ctx, r.output)
		if err != nil {
			return statemachine.Failed, fmt.Errorf("orchestrator: review: %w", err)
		}
		r.final = final
		return statemachine.Terminate, nil

	default:
		return statemachine.Failed, fmt.Errorf("orchestrator: no handler registered for state %s", state)
	}
}

// onRetry appends RETRY_ATTEMPTED for the step currently open, satisfying
// the ordering guarantee that STATE_ENTER(step=k) precedes any
// RETRY_ATTEMPTED for step k, which precedes STATE_ENTER(step=k+1) or the
// terminating event.
func (r *run) onRetry(ctx context.Context) retry.Hook {
	return func(attempt int, err error, delay time.Duration) {
		appendErr := r.appendEvent(ctx, eventmodel.RetryAttempted, mustMarshal(retryPayload{
			Attempt:    attempt,
			Error:      err.Error(),
			DelayMicro: delay.Microseconds(),
		}), nil)
		if appendErr != nil {
			r.logger.Error(ctx, "orchestrator: failed to append RETRY_ATTEMPTED", "execution_id", r.executionID, "error", appendErr)
		}
	}
}

type retryPayload struct {
	Attempt    int    `json:"attempt"`
	Error      string `json:"error"`
	DelayMicro int64  `json:"delay_microseconds"`
}

func (r *run) mirrorSafeContext(ctx context.Context, step int64) {
	safe := mustMarshal(safeContext{
		State:     string(r.sm.Current()),
		Steps:     r.counters.Steps,
		Tokens:    r.counters.Tokens,
		ToolCalls: r.counters.ToolCalls,
	})
	if err := r.o.Store.SaveExecutionStep(ctx, r.executionID, step, safe); err != nil {
		r.logger.Warn(ctx, "orchestrator: best-effort step checkpoint failed", "execution_id", r.executionID, "step", step, "error", err)
	}
}

type safeContext struct {
	State     string `json:"state"`
	Steps     int64  `json:"steps"`
	Tokens    int64  `json:"tokens"`
	ToolCalls int64  `json:"tool_calls"`
}

func (r *run) terminateCompleted(ctx context.Context) (*report.ExecutionReport, error) {
	if err := r.appendEvent(ctx, eventmodel.ExecutionCompleted, mustMarshal(map[string]any{
		"final_output": r.final,
	}), nil); err != nil {
		r.logger.Error(ctx, "orchestrator: failed to append EXECUTION_COMPLETED", "execution_id", r.executionID, "error", err)
	}
	r.metrics.IncCounter("orchestrator.executions.completed", 1, "execution_id", r.executionID)
	return r.buildReport(report.StatusCompleted, ""), nil
}

func (r *run) terminatePolicyViolation(ctx context.Context, violation error) (*report.ExecutionReport, error) {
	r.sm.Fail()
	if err := r.appendEvent(ctx, eventmodel.PolicyViolationEvent, nil, nil); err != nil {
		r.logger.Error(ctx, "orchestrator: failed to append POLICY_VIOLATION", "execution_id", r.executionID, "error", err)
	}
	r.metrics.IncCounter("orchestrator.executions.policy_violation", 1, "execution_id", r.executionID)
	return r.buildReport(report.StatusPolicyViolation, violation.Error()), violation
}

func (r *run) terminateFailed(ctx context.Context, cause error) (*report.ExecutionReport, error) {
	r.sm.Fail()
	e := r.newEvent(eventmodel.ExecutionFailed, nil, nil)
	e.Error = cause.Error()
	if err := r.o.Events.Append(ctx, e); err != nil {
		r.logger.Error(ctx, "orchestrator: failed to append EXECUTION_FAILED", "execution_id", r.executionID, "error", err)
	}
	r.metrics.IncCounter("orchestrator.executions.failed", 1, "execution_id", r.executionID)
	return r.buildReport(report.StatusFailed, cause.Error()), cause
}

// buildReport assembles the external-facing summary of this execution from
// the counters, state history, and hash tracked throughout the run.
func (r *run) buildReport(status report.Status, errMsg string) *report.ExecutionReport {
	return &report.ExecutionReport{
		ExecutionID:    r.executionID,
		Status:         status,
		TotalTokens:    r.counters.Tokens,
		TotalSteps:     r.counters.Steps,
		ToolCalls:      r.counters.ToolCalls,
		ElapsedSeconds: time.Since(r.startedAt).Seconds(),
		StateHistory:   r.sm.History(),
		FinalOutput:    r.final,
		Error:          errMsg,
		Timestamp:      time.Now(),
		ExecutionHash:  r.snapshotHash,
	}
}

func (r *run) newEvent(typ eventmodel.Type, input, output json.RawMessage) *eventmodel.Event {
	return &eventmodel.Event{
		ExecutionID:         r.executionID,
		StepNumber:          r.counters.Steps,
		Type:                typ,
		Timestamp:           time.Now(),
		State:               string(r.sm.Current()),
		InputData:           input,
		OutputData:          output,
		CumulativeSteps:     r.counters.Steps,
		CumulativeTokens:    r.counters.Tokens,
		CumulativeToolCalls: r.counters.ToolCalls,
	}
}

func (r *run) appendEvent(ctx context.Context, typ eventmodel.Type, input, output json.RawMessage) error {
	return r.o.Events.Append(ctx, r.newEvent(typ, input, output))
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("orchestrator: marshal payload: %v", err))
	}
	return raw
}
