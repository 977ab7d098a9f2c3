// Package store defines the persistence adapter that complements
// eventstore with coarse snapshots and out-of-band metadata: the canonical
// execution spec (for recovery integrity checks), lightweight per-step
// checkpoints, the active-execution registry, and the bounded recovery
// counter. It is grounded on goa-ai's runtime/agent/run.Store
// (defensive-copy in-memory registry) generalized to the Redis shapes
// implied by original_source/oao/runtime/distributed_scheduler.py's key
// conventions.
package store

import (
	"context"
	"errors"
)

// ErrSpecNotFound indicates no spec has been saved for an execution id.
var ErrSpecNotFound = errors.New("store: execution spec not found")

// Store persists execution specs, step checkpoints, the active-execution
// registry, and recovery counters. Implementations must be safe for
// concurrent use by many orchestrators and recovery managers.
type Store interface {
	// SaveExecutionSpec durably stores the canonical snapshot payload for
	// id, overwriting any prior value.
	SaveExecutionSpec(ctx context.Context, executionID string, spec []byte) error

	// LoadExecutionSpec returns the spec saved for executionID, or
	// ErrSpecNotFound if none exists.
	LoadExecutionSpec(ctx context.Context, executionID string) ([]byte, error)

	// SaveExecutionStep stores a lightweight, best-effort checkpoint of the
	// execution's safe (serializable) context at step, keyed for random
	// access. Failure to persist a step checkpoint is not fatal to the
	// orchestrator loop.
	SaveExecutionStep(ctx context.Context, executionID string, step int64, safeContext []byte) error

	// LoadExecutionStep returns the checkpoint saved for (executionID,
	// step), if any.
	LoadExecutionStep(ctx context.Context, executionID string, step int64) ([]byte, bool, error)

	// RegisterActiveExecution adds executionID to the set of executions
	// that have not yet reached a terminal status.
	RegisterActiveExecution(ctx context.Context, executionID string) error

	// RemoveActiveExecution removes executionID from the active set. It is
	// a no-op if executionID is not present.
	RemoveActiveExecution(ctx context.Context, executionID string) error

	// ListActiveExecutions returns every execution id currently in the
	// active set, in no particular order.
	ListActiveExecutions(ctx context.Context) ([]string, error)

	// IncrementRecoveryCount increments and returns the recovery counter for
	// executionID.
	IncrementRecoveryCount(ctx context.Context, executionID string) (int64, error)

	// GetRecoveryCount returns the current recovery counter for
	// executionID, 0 if never incremented.
	GetRecoveryCount(ctx context.Context, executionID string) (int64, error)
}
