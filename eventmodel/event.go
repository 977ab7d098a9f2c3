// Package eventmodel defines the typed, timestamped, ordered records that
// make up an execution's durable history. It is the leaf dependency of the
// whole orchestration core: the state machine, the policy engine, the retry
// engine, and the orchestrator all read and write Event values, but nothing
// in this package depends on them.
package eventmodel

import (
	"encoding/json"
	"errors"
	"time"
)

// Type enumerates the kinds of events an execution can emit. Validate only
// checks that an event's Type is one of these values; it does not check
// that the fields a given Type carries (State, OutputData, Error, ...) are
// present.
type Type string

const (
	ExecutionStarted      Type = "EXECUTION_STARTED"
	ExecutionCompleted    Type = "EXECUTION_COMPLETED"
	ExecutionFailed       Type = "EXECUTION_FAILED"
	StepStarted           Type = "STEP_STARTED"
	StepCompleted         Type = "STEP_COMPLETED"
	StepFailed            Type = "STEP_FAILED"
	StateEnter            Type = "STATE_ENTER"
	StateExit             Type = "STATE_EXIT"
	ToolCall              Type = "TOOL_CALL"
	ToolCallSuccess       Type = "TOOL_CALL_SUCCESS"
	ToolCallFailed        Type = "TOOL_CALL_FAILED"
	IdempotentToolSkipped Type = "IDEMPOTENT_TOOL_SKIPPED"
	PolicyViolationEvent  Type = "POLICY_VIOLATION"
	TokenBudgetExceeded   Type = "TOKEN_BUDGET_EXCEEDED"
	MaxStepsExceeded      Type = "MAX_STEPS_EXCEEDED"
	TimeoutExceeded       Type = "TIMEOUT_EXCEEDED"
	RetryAttempted        Type = "RETRY_ATTEMPTED"
	ErrorEvent            Type = "ERROR"
)

// terminalTypes are the event types that may legally be the last event of an
// execution's log.
var terminalTypes = map[Type]bool{
	ExecutionCompleted:   true,
	ExecutionFailed:      true,
	PolicyViolationEvent: true,
}

// IsTerminal reports whether t is one of the three types allowed to close an
// execution's event log.
func IsTerminal(t Type) bool { return terminalTypes[t] }

// Event is the atomic, append-only unit of execution history. Once
// constructed and appended through an eventstore.Store, an Event is never
// mutated.
type Event struct {
	ExecutionID string          `json:"execution_id"`
	StepNumber  int64           `json:"step_number"`
	Type        Type            `json:"event_type"`
	Timestamp   time.Time       `json:"timestamp"`
	State       string          `json:"state,omitempty"`
	InputData   json.RawMessage `json:"input_data,omitempty"`
	OutputData  json.RawMessage `json:"output_data,omitempty"`
	Error       string          `json:"error,omitempty"`

	CumulativeTokens    int64 `json:"cumulative_tokens"`
	CumulativeSteps     int64 `json:"cumulative_steps"`
	CumulativeToolCalls int64 `json:"cumulative_tool_calls"`

	DeltaTokens    int64 `json:"delta_tokens,omitempty"`
	DeltaSteps     int64 `json:"delta_steps,omitempty"`
	DeltaToolCalls int64 `json:"delta_tool_calls,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	IsReplay            bool   `json:"is_replay,omitempty"`
	OriginalExecutionID string `json:"original_execution_id,omitempty"`
	ReplayFromStep      int64  `json:"replay_from_step,omitempty"`
}

// Validate enforces the invariants appending code must satisfy before an
// event reaches a store: non-empty execution id, non-negative step number,
// and a known event type.
func (e *Event) Validate() error {
	if e == nil {
		return errors.New("eventmodel: nil event")
	}
	if e.ExecutionID == "" {
		return errors.New("eventmodel: execution_id is required")
	}
	if e.StepNumber < 0 {
		return errors.New("eventmodel: step_number must be >= 0")
	}
	if !knownTypes[e.Type] {
		return errors.New("eventmodel: unknown event type " + string(e.Type))
	}
	return nil
}

var knownTypes = func() map[Type]bool {
	all := []Type{
		ExecutionStarted, ExecutionCompleted, ExecutionFailed,
		StepStarted, StepCompleted, StepFailed,
		StateEnter, StateExit,
		ToolCall, ToolCallSuccess, ToolCallFailed, IdempotentToolSkipped,
		PolicyViolationEvent, TokenBudgetExceeded, MaxStepsExceeded, TimeoutExceeded,
		RetryAttempted, ErrorEvent,
	}
	m := make(map[Type]bool, len(all))
	for _, t := range all {
		m[t] = true
	}
	return m
}()

// State is the source of truth for resuming an execution, reconstructed by
// folding events via eventstore.Store.ReplayToState.
type State struct {
	ExecutionID         string
	CurrentStep         int64
	CurrentState        string
	CumulativeTokens    int64
	CumulativeToolCalls int64
	LastOutput          json.RawMessage
	Error               string
}

// Fold updates s in place with the contents of e, implementing the
// replay contract from spec §4.2: current_step always advances,
// cumulative counters are taken verbatim from the event (they are already
// cumulative, never re-derived), current_state only changes on STATE_ENTER,
// and last_output/error are sticky once set.
func (s *State) Fold(e *Event) {
	if e == nil {
		return
	}
	s.ExecutionID = e.ExecutionID
	s.CurrentStep = e.StepNumber
	s.CumulativeTokens = e.CumulativeTokens
	s.CumulativeToolCalls = e.CumulativeToolCalls
	if e.Type == StateEnter && e.State != "" {
		s.CurrentState = e.State
	}
	if len(e.OutputData) > 0 {
		s.LastOutput = e.OutputData
	}
	if e.Error != "" {
		s.Error = e.Error
	}
}
