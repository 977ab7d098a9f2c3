// Package statemachine implements the deterministic lifecycle controller
// every execution is driven through, grounded on
// original_source/oao/runtime/state_machine.py's StateMachine: a fixed
// transition table, full ordered history (including forced states), and
// per-state entry timestamps.
package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/yashsham/open-agent-orchestrator/telemetry"
)

// State is one of the fixed lifecycle states an execution passes through.
type State string

const (
	Init      State = "INIT"
	Plan      State = "PLAN"
	Execute   State = "EXECUTE"
	Review    State = "REVIEW"
	Terminate State = "TERMINATE"
	Failed    State = "FAILED"
)

var transitions = map[State][]State{
	Init:      {Plan, Failed},
	Plan:      {Execute, Failed},
	Execute:   {Review, Failed},
	Review:    {Terminate, Failed},
	Terminate: {},
	Failed:    {},
}

// InvalidStateTransitionError reports an attempt to move between two states
// with no edge in the transition table.
type InvalidStateTransitionError struct {
	From, To State
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("statemachine: invalid transition from %s to %s", e.From, e.To)
}

// StateMachine tracks one execution's current lifecycle state, full
// transition history, and per-state entry times. A StateMachine is owned
// by exactly one orchestrator run and is not safe for concurrent use.
type StateMachine struct {
	current         State
	history         []State
	stateEntryTimes map[State]time.Time
	logger          telemetry.Logger
}

// New constructs a StateMachine in the INIT state. logger may be nil, in
// which case ForceSet logs nothing.
func New(logger telemetry.Logger) *StateMachine {
	now := time.Now()
	return &StateMachine{
		current:         Init,
		history:         []State{Init},
		stateEntryTimes: map[State]time.Time{Init: now},
		logger:          logger,
	}
}

// Transition moves to next if the edge current→next is legal, recording it
// in history and resetting the current-state entry time. It returns
// *InvalidStateTransitionError otherwise.
func (m *StateMachine) Transition(next State) error {
	for _, allowed := range transitions[m.current] {
		if allowed == next {
			m.current = next
			m.history = append(m.history, next)
			m.stateEntryTimes[next] = time.Now()
			return nil
		}
	}
	return &InvalidStateTransitionError{From: m.current, To: next}
}

// ForceSet sets the current state unconditionally, bypassing the
// transition table. It exists only for replay hydration (resuming at the
// EXECUTE anchor per spec.md §4.7). It still appends to history whenever
// the state actually changes, and logs a warning — forced states are never
// a silent mutation.
func (m *StateMachine) ForceSet(ctx context.Context, state State) {
	if m.logger != nil {
		m.logger.Warn(ctx, "statemachine: force setting state (bypassing validation)", "state", state)
	}
	m.current = state
	if len(m.history) == 0 || m.history[len(m.history)-1] != state {
		m.history = append(m.history, state)
		m.stateEntryTimes[state] = time.Now()
	}
}

// Fail moves immediately to FAILED from any state, bypassing the
// transition table, matching original_source's StateMachine.fail.
func (m *StateMachine) Fail() {
	m.current = Failed
	m.history = append(m.history, Failed)
	m.stateEntryTimes[Failed] = time.Now()
}

// IsTerminal reports whether the current state is TERMINATE or FAILED.
func (m *StateMachine) IsTerminal() bool {
	return m.current == Terminate || m.current == Failed
}

// Current returns the current state.
func (m *StateMachine) Current() State { return m.current }

// History returns the ordered list of states visited, including repeats
// introduced by ForceSet. The returned slice must not be mutated by callers.
func (m *StateMachine) History() []State { return m.history }

// StateEntryTimes returns the most recent entry time recorded for each
// visited state. The returned map must not be mutated by callers.
func (m *StateMachine) StateEntryTimes() map[State]time.Time { return m.stateEntryTimes }

// CurrentStateDuration returns how long the machine has been in its
// current state.
func (m *StateMachine) CurrentStateDuration() time.Duration {
	t, ok := m.stateEntryTimes[m.current]
	if !ok {
		return 0
	}
	return time.Since(t)
}
