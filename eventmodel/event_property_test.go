package eventmodel

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genStepDeltas produces a slice of small non-negative step increments,
// used to build a strictly increasing sequence of step numbers the way a
// real execution's event log would.
func genStepDeltas() gopter.Gen {
	return gen.SliceOf(gen.IntRange(1, 5))
}

// TestFoldCurrentStepTracksLatestEventProperty verifies that folding a
// sequence of events with strictly increasing step numbers and
// non-decreasing cumulative token counts always leaves State.CurrentStep
// equal to the last event's step number and CumulativeTokens
// non-decreasing, per Fold's replay contract.
func TestFoldCurrentStepTracksLatestEventProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("current_step equals the last folded event's step_number", prop.ForAll(
		func(deltas []int) bool {
			if len(deltas) == 0 {
				return true
			}

			state := &State{}
			step := int64(0)
			tokens := int64(0)
			var lastStep int64
			var lastTokens int64

			for _, d := range deltas {
				step += int64(d)
				tokens += int64(d)
				e := &Event{
					ExecutionID:      "exec-1",
					StepNumber:       step,
					Type:             StepCompleted,
					Timestamp:        time.Unix(0, 0),
					CumulativeTokens: tokens,
				}
				state.Fold(e)
				lastStep = step
				lastTokens = tokens
			}

			if state.CurrentStep != lastStep {
				return false
			}
			return state.CumulativeTokens == lastTokens
		},
		genStepDeltas(),
	))

	properties.TestingRun(t)
}

// TestFoldStateEnterOnlyChangesOnStateEnterProperty verifies that
// CurrentState only ever changes in response to a STATE_ENTER event, never
// as a side effect of any other event type.
func TestFoldStateEnterOnlyChangesOnStateEnterProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("non-STATE_ENTER events never change current_state", prop.ForAll(
		func(name string) bool {
			state := &State{CurrentState: "planning"}
			e := &Event{
				ExecutionID: "exec-1",
				StepNumber:  1,
				Type:        StepStarted,
				Timestamp:   time.Unix(0, 0),
				State:       name,
			}
			state.Fold(e)
			return state.CurrentState == "planning"
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
