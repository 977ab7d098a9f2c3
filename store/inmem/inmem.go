// Package inmem provides an in-memory store.Store for tests and local
// development. It holds specs, step checkpoints, the active set, and
// recovery counters in maps with no persistence across process restarts,
// following the defensive-copy pattern of goa-ai's runtime/agent/run/inmem.Store.
package inmem

import (
	"context"
	"sync"

	"github.com/yashsham/open-agent-orchestrator/store"
)

// Store implements store.Store in memory. All operations are thread-safe.
type Store struct {
	mu       sync.RWMutex
	specs    map[string][]byte
	steps    map[string]map[int64][]byte
	active   map[string]struct{}
	recovery map[string]int64
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		specs:    make(map[string][]byte),
		steps:    make(map[string]map[int64][]byte),
		active:   make(map[string]struct{}),
		recovery: make(map[string]int64),
	}
}

// SaveExecutionSpec implements store.Store.
func (s *Store) SaveExecutionSpec(_ context.Context, executionID string, spec []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), spec...)
	s.specs[executionID] = cp
	return nil
}

// LoadExecutionSpec implements store.Store.
func (s *Store) LoadExecutionSpec(_ context.Context, executionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[executionID]
	if !ok {
		return nil, store.ErrSpecNotFound
	}
	return append([]byte(nil), spec...), nil
}

// SaveExecutionStep implements store.Store.
func (s *Store) SaveExecutionStep(_ context.Context, executionID string, step int64, safeContext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps[executionID] == nil {
		s.steps[executionID] = make(map[int64][]byte)
	}
	s.steps[executionID][step] = append([]byte(nil), safeContext...)
	return nil
}

// LoadExecutionStep implements store.Store.
func (s *Store) LoadExecutionStep(_ context.Context, executionID string, step int64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStep, ok := s.steps[executionID]
	if !ok {
		return nil, false, nil
	}
	v, ok := byStep[step]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// RegisterActiveExecution implements store.Store.
func (s *Store) RegisterActiveExecution(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[executionID] = struct{}{}
	return nil
}

// RemoveActiveExecution implements store.Store.
func (s *Store) RemoveActiveExecution(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, executionID)
	return nil
}

// ListActiveExecutions implements store.Store.
func (s *Store) ListActiveExecutions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out, nil
}

// IncrementRecoveryCount implements store.Store.
func (s *Store) IncrementRecoveryCount(_ context.Context, executionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovery[executionID]++
	return s.recovery[executionID], nil
}

// GetRecoveryCount implements store.Store.
func (s *Store) GetRecoveryCount(_ context.Context, executionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovery[executionID], nil
}
