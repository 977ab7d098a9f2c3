// Package redis provides a Redis-backed eventstore.Store. Events for an
// execution are stored in a sorted set keyed by step_number, which gives
// Get/Latest/Count/ReplayToState ordered access without a separate index,
// generalizing the functional-option Redis store pattern from
// itsneelabh-gomind's orchestration.RedisExecutionDebugStore to the
// append-only event log this runtime needs.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/yashsham/open-agent-orchestrator/eventmodel"
	"github.com/yashsham/open-agent-orchestrator/eventstore"
)

const defaultKeyPrefix = "oao:events:"

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the default "oao:events:" Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// Store implements eventstore.Store against Redis, using one sorted set per
// execution (member = JSON-encoded event, score = step_number).
type Store struct {
	client    *redis.Client
	keyPrefix string

	mu   sync.Mutex
	subs map[string][]chan *eventmodel.Event
}

// New constructs a Store using client for storage.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		subs:      make(map[string][]chan *eventmodel.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(executionID string) string {
	return s.keyPrefix + executionID
}

// Append implements eventstore.Store.
func (s *Store) Append(ctx context.Context, e *eventmodel.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventstore/redis: marshal event: %w", err)
	}
	err = s.client.ZAdd(ctx, s.key(e.ExecutionID), redis.Z{
		Score:  float64(e.StepNumber),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("eventstore/redis: zadd: %w", err)
	}

	s.mu.Lock()
	subs := append([]chan *eventmodel.Event(nil), s.subs[e.ExecutionID]...)
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Get implements eventstore.Store.
func (s *Store) Get(ctx context.Context, executionID string, fromStep, toStep int64) ([]*eventmodel.Event, error) {
	max := "+inf"
	if toStep >= 0 {
		max = fmt.Sprintf("%d", toStep)
	}
	members, err := s.client.ZRangeByScore(ctx, s.key(executionID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", fromStep),
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("eventstore/redis: zrangebyscore: %w", err)
	}
	return decodeAll(members)
}

// Latest implements eventstore.Store.
func (s *Store) Latest(ctx context.Context, executionID string) (*eventmodel.Event, error) {
	members, err := s.client.ZRevRangeByScore(ctx, s.key(executionID), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("eventstore/redis: zrevrangebyscore: %w", err)
	}
	if len(members) == 0 {
		return nil, eventstore.ErrNotFound
	}
	var e eventmodel.Event
	if err := json.Unmarshal([]byte(members[0]), &e); err != nil {
		return nil, fmt.Errorf("eventstore/redis: unmarshal event: %w", err)
	}
	return &e, nil
}

// Count implements eventstore.Store.
func (s *Store) Count(ctx context.Context, executionID string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.key(executionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("eventstore/redis: zcard: %w", err)
	}
	return n, nil
}

// ReplayToState implements eventstore.Store.
func (s *Store) ReplayToState(ctx context.Context, executionID string, targetStep *int64) (*eventmodel.State, error) {
	toStep := int64(-1)
	if targetStep != nil {
		toStep = *targetStep
	}
	events, err := s.Get(ctx, executionID, 0, toStep)
	if err != nil {
		return nil, err
	}
	state := &eventmodel.State{ExecutionID: executionID}
	for _, e := range events {
		state.Fold(e)
	}
	return state, nil
}

// Subscribe implements eventstore.Store with a process-local fan-out
// channel; it only sees events appended through this *Store instance; for
// cross-process delivery, pair with Redis pub/sub at the orchestrator layer.
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

func decodeAll(members []string) ([]*eventmodel.Event, error) {
	out := make([]*eventmodel.Event, 0, len(members))
	for _, m := range members {
		var e eventmodel.Event
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("eventstore/redis: unmarshal event: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}
