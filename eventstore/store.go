// Package eventstore defines the append-only, ordered event log that is the
// sole source of truth for execution state. It generalizes the append/list
// contract of goa-ai's runtime/agent/runlog.Store with the range reads and
// fold-to-state replay the orchestration core needs to resume after a
// crash.
package eventstore

import (
	"context"
	"errors"

	"github.com/yashsham/open-agent-orchestrator/eventmodel"
)

// ErrNotFound indicates the requested execution has no events.
var ErrNotFound = errors.New("eventstore: execution not found")

// Store is implemented by every backend (in-memory, Redis, ...). All methods
// must be safe for concurrent use by many orchestrators.
type Store interface {
	// Append validates and durably appends e to execution_id's log. It
	// rejects events that fail eventmodel.Event.Validate without writing
	// anything.
	Append(ctx context.Context, e *eventmodel.Event) error

	// Get returns events for executionID with step_number in [fromStep,
	// toStep], ascending. toStep < 0 means "no upper bound".
	Get(ctx context.Context, executionID string, fromStep, toStep int64) ([]*eventmodel.Event, error)

	// Latest returns the most recently appended event, or ErrNotFound if the
	// execution has no events.
	Latest(ctx context.Context, executionID string) (*eventmodel.Event, error)

	// Count returns the number of events recorded for executionID.
	Count(ctx context.Context, executionID string) (int64, error)

	// ReplayToState folds every event up to and including targetStep (or all
	// events, when targetStep is nil) into a single eventmodel.State. This is
	// the authoritative mechanism for reconstructing resumable state; it
	// never reads from a coarse snapshot.
	ReplayToState(ctx context.Context, executionID string, targetStep *int64) (*eventmodel.State, error)

	// Subscribe returns a best-effort fan-out channel of events appended to
	// executionID after the call, plus an unsubscribe function. An event
	// that does not fit in a slow consumer's buffer is dropped for that
	// consumer, never allowed to block Append; see spec §6 "Event stream".
	Subscribe(ctx context.Context, executionID string) (<-chan *eventmodel.Event, func())
}
