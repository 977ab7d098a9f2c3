// Package inmem provides an in-memory eventstore.Store for tests and
// ephemeral runs. It is grounded on goa-ai's
// runtime/agent/runlog/inmem.Store: a mutex-guarded slice per execution,
// kept in append order, generalized with range reads and fold-to-state
// replay.
package inmem

import (
	"context"
	"sync"

	"github.com/yashsham/open-agent-orchestrator/eventmodel"
	"github.com/yashsham/open-agent-orchestrator/eventstore"
)

// Store implements eventstore.Store in memory. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	events map[string][]*eventmodel.Event
	subs   map[string][]chan *eventmodel.Event
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		events: make(map[string][]*eventmodel.Event),
		subs:   make(map[string][]chan *eventmodel.Event),
	}
}

// Append implements eventstore.Store.
func (s *Store) Append(_ context.Context, e *eventmodel.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	cp := *e
	s.events[e.ExecutionID] = append(s.events[e.ExecutionID], &cp)
	subs := append([]chan *eventmodel.Event(nil), s.subs[e.ExecutionID]...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- &cp:
		default:
			// Drop on a full channel: best-effort delivery per spec §6.
		}
	}
	return nil
}

// Get implements eventstore.Store.
func (s *Store) Get(_ context.Context, executionID string, fromStep, toStep int64) ([]*eventmodel.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, ok := s.events[executionID]
	if !ok {
		return nil, nil
	}
	out := make([]*eventmodel.Event, 0, len(all))
	for _, e := range all {
		if e.StepNumber < fromStep {
			continue
		}
		if toStep >= 0 && e.StepNumber > toStep {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Latest implements eventstore.Store.
func (s *Store) Latest(_ context.Context, executionID string) (*eventmodel.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[executionID]
	if len(all) == 0 {
		return nil, eventstore.ErrNotFound
	}
	return all[len(all)-1], nil
}

// Count implements eventstore.Store.
func (s *Store) Count(_ context.Context, executionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events[executionID])), nil
}

// ReplayToState implements eventstore.Store by folding every event in
// step_number order, stopping after targetStep if provided.
func (s *Store) ReplayToState(_ context.Context, executionID string, targetStep *int64) (*eventmodel.State, error) {
	s.mu.Lock()
	all := append([]*eventmodel.Event(nil), s.events[executionID]...)
	s.mu.Unlock()

	state := &eventmodel.State{ExecutionID: executionID}
	for _, e := range all {
		if targetStep != nil && e.StepNumber > *targetStep {
			break
		}
		state.Fold(e)
	}
	return state, nil
}

// Subscribe implements eventstore.Store with a buffered, best-effort
// broadcast channel per subscriber.
func (s *Store) Subscribe(_ context.Context, executionID string) (<-chan *eventmodel.Event, func()) {
	ch := make(chan *eventmodel.Event, 32)
	s.mu.Lock()
	s.subs[executionID] = append(s.subs[executionID], ch)
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[executionID]
		for i, c := range subs {
			if c == ch {
				s.subs[executionID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, unsubscribe
}
