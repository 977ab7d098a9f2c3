// Package report defines the ExecutionReport returned to callers of the
// synchronous submit interface, grounded on
// original_source/oao/protocol/report.py's ExecutionReport: a flat summary
// of one finished execution's counters, state history, and outcome.
// Unlike the original, execution_id is supplied by the orchestrator (not
// minted fresh here) and agent_name is dropped, since this module's Agent
// interface carries no name — that belongs to whichever agent-framework
// adapter a caller plugs in, which is out of scope (spec.md §1 non-goals).
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yashsham/open-agent-orchestrator/statemachine"
)

// Status is the terminal outcome of an execution, one value for each of
// the three event types that may legally close an execution's event log.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusPolicyViolation Status = "policy_violation"
)

// ExecutionReport is the external-interface return value of a synchronous
// Submit call (spec.md §6) and the thing every finished execution is
// guaranteed to have, successful or not (spec.md §7).
type ExecutionReport struct {
	ExecutionID    string               `json:"execution_id"`
	Status         Status               `json:"status"`
	TotalTokens    int64                `json:"total_tokens"`
	TotalSteps     int64                `json:"total_steps"`
	ToolCalls      int64                `json:"tool_calls"`
	ElapsedSeconds float64              `json:"elapsed_seconds"`
	StateHistory   []statemachine.State `json:"state_history"`
	FinalOutput    string               `json:"final_output,omitempty"`
	Error          string               `json:"error,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
	ExecutionHash  string               `json:"execution_hash"`
}

// String renders a one-line human-readable summary. cmd/submit does not
// use it; it prints the JSON form.
func (r *ExecutionReport) String() string {
	if r.Error != "" {
		return fmt.Sprintf("execution %s: %s after %d steps (%.2fs) — %s",
			r.ExecutionID, r.Status, r.TotalSteps, r.ElapsedSeconds, r.Error)
	}
	return fmt.Sprintf("execution %s: %s after %d steps (%.2fs): %s",
		r.ExecutionID, r.Status, r.TotalSteps, r.ElapsedSeconds, r.FinalOutput)
}

// MarshalJSON defers to the struct tags above via a local alias, avoiding
// infinite recursion. cmd/submit reaches it through json.Marshal.
func (r *ExecutionReport) MarshalJSON() ([]byte, error) {
	type alias ExecutionReport
	return json.Marshal((*alias)(r))
}
