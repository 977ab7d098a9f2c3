package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/telemetry"
)

func TestLegalTransitionSequence(t *testing.T) {
	t.Parallel()

	m := New(telemetry.NoopLogger{})
	require.Equal(t, Init, m.Current())

	require.NoError(t, m.Transition(Plan))
	require.NoError(t, m.Transition(Execute))
	require.NoError(t, m.Transition(Review))
	require.NoError(t, m.Transition(Terminate))

	require.True(t, m.IsTerminal())
	require.Equal(t, []State{Init, Plan, Execute, Review, Terminate}, m.History())
}

func TestIllegalTransitionRejected(t *testing.T) {
	t.Parallel()

	m := New(telemetry.NoopLogger{})
	err := m.Transition(Execute)
	require.Error(t, err)

	var invalid *InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, Init, invalid.From)
	require.Equal(t, Execute, invalid.To)
}

func TestFailFromAnyState(t *testing.T) {
	t.Parallel()

	m := New(telemetry.NoopLogger{})
	require.NoError(t, m.Transition(Plan))
	m.Fail()

	require.True(t, m.IsTerminal())
	require.Equal(t, Failed, m.Current())
	require.Equal(t, []State{Init, Plan, Failed}, m.History())
}

func TestForceSetAppendsHistoryWithoutDuplicates(t *testing.T) {
	t.Parallel()

	m := New(telemetry.NoopLogger{})
	m.ForceSet(context.Background(), Execute)

	require.Equal(t, Execute, m.Current())
	require.Equal(t, []State{Init, Execute}, m.History())

	// A repeated force-set to the same state must not duplicate history.
	m.ForceSet(context.Background(), Execute)
	require.Equal(t, []State{Init, Execute}, m.History())
}

func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	t.Parallel()

	for _, terminal := range []State{Terminate, Failed} {
		require.Empty(t, transitions[terminal])
	}
}
