// Package redis provides a Redis-backed store.Store, keyed per
// the persisted-state layout: "execution:<id>:spec" and
// "execution:<id>:steps" (hash), "active_executions" (set), and
// "execution:<id>:recovery_count" (plain integer key, no TTL, since
// recovery counters must survive as long as the execution is active).
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yashsham/open-agent-orchestrator/store"
)

const (
	activeSetKey = "active_executions"
)

// Store implements store.Store against Redis.
type Store struct {
	client *redis.Client
}

// New constructs a Store using client for storage.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func specKey(executionID string) string     { return fmt.Sprintf("execution:%s:spec", executionID) }
func stepsKey(executionID string) string    { return fmt.Sprintf("execution:%s:steps", executionID) }
func recoveryKey(executionID string) string { return fmt.Sprintf("execution:%s:recovery_count", executionID) }

// SaveExecutionSpec implements store.Store.
func (s *Store) SaveExecutionSpec(ctx context.Context, executionID string, spec []byte) error {
	if err := s.client.Set(ctx, specKey(executionID), spec, 0).Err(); err != nil {
		return fmt.Errorf("store/redis: set spec: %w", err)
	}
	return nil
}

// LoadExecutionSpec implements store.Store.
func (s *Store) LoadExecutionSpec(ctx context.Context, executionID string) ([]byte, error) {
	v, err := s.client.Get(ctx, specKey(executionID)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrSpecNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store/redis: get spec: %w", err)
	}
	return v, nil
}

// SaveExecutionStep implements store.Store.
func (s *Store) SaveExecutionStep(ctx context.Context, executionID string, step int64, safeContext []byte) error {
	field := fmt.Sprintf("%d", step)
	if err := s.client.HSet(ctx, stepsKey(executionID), field, safeContext).Err(); err != nil {
		return fmt.Errorf("store/redis: hset step: %w", err)
	}
	return nil
}

// LoadExecutionStep implements store.Store.
func (s *Store) LoadExecutionStep(ctx context.Context, executionID string, step int64) ([]byte, bool, error) {
	field := fmt.Sprintf("%d", step)
	v, err := s.client.HGet(ctx, stepsKey(executionID), field).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store/redis: hget step: %w", err)
	}
	return v, true, nil
}

// RegisterActiveExecution implements store.Store.
func (s *Store) RegisterActiveExecution(ctx context.Context, executionID string) error {
	if err := s.client.SAdd(ctx, activeSetKey, executionID).Err(); err != nil {
		return fmt.Errorf("store/redis: sadd active: %w", err)
	}
	return nil
}

// RemoveActiveExecution implements store.Store.
func (s *Store) RemoveActiveExecution(ctx context.Context, executionID string) error {
	if err := s.client.SRem(ctx, activeSetKey, executionID).Err(); err != nil {
		return fmt.Errorf("store/redis: srem active: %w", err)
	}
	return nil
}

// ListActiveExecutions implements store.Store.
func (s *Store) ListActiveExecutions(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store/redis: smembers active: %w", err)
	}
	return ids, nil
}

// IncrementRecoveryCount implements store.Store.
func (s *Store) IncrementRecoveryCount(ctx context.Context, executionID string) (int64, error) {
	n, err := s.client.Incr(ctx, recoveryKey(executionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("store/redis: incr recovery count: %w", err)
	}
	return n, nil
}

// GetRecoveryCount implements store.Store.
func (s *Store) GetRecoveryCount(ctx context.Context, executionID string) (int64, error) {
	n, err := s.client.Get(ctx, recoveryKey(executionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store/redis: get recovery count: %w", err)
	}
	return n, nil
}
