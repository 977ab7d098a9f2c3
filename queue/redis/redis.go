// Package redis implements queue.Queue against Redis, grounded on
// original_source/oao/runtime/distributed_scheduler.py's DistributedScheduler
// translated to github.com/redis/go-redis/v9: submit_job -> RPush, fetch_job
// -> BLMove (the non-deprecated replacement for BRPOPLPUSH) moving the
// head of "jobs" onto the tail of "processing:<worker>", so jobs submitted
// with RPush are fetched in FIFO order, complete_job/fail_job -> LPop from the worker's
// processing list, heartbeats via SetEx, and the reaper scanning
// "processing:*" via Scan and draining dead workers' lists back onto "jobs"
// with RPopLPush, matching recover_dead_workers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yashsham/open-agent-orchestrator/queue"
)

const (
	jobsKey = "jobs"
)

func jobKey(jobID string) string        { return fmt.Sprintf("job:%s", jobID) }
func resultKey(jobID string) string     { return fmt.Sprintf("result:%s", jobID) }
func workerKey(workerID string) string  { return fmt.Sprintf("worker:%s", workerID) }
func processingKey(workerID string) string {
	return fmt.Sprintf("processing:%s", workerID)
}

// Queue implements queue.Queue against Redis.
type Queue struct {
	client *redis.Client
}

// New constructs a Queue using client for storage.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

type jobRecord struct {
	ID          string          `json:"job_id"`
	Payload     json.RawMessage `json:"payload"`
	Status      queue.Status    `json:"status"`
	RetriesLeft int             `json:"retries_left"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (r jobRecord) toJob() *queue.Job {
	return &queue.Job{
		ID:          r.ID,
		Payload:     r.Payload,
		Status:      r.Status,
		RetriesLeft: r.RetriesLeft,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// Submit implements queue.Queue.
func (q *Queue) Submit(ctx context.Context, payload json.RawMessage, retries int) (string, error) {
	now := time.Now().UTC()
	rec := jobRecord{
		ID:          uuid.NewString(),
		Payload:     payload,
		Status:      queue.StatusPending,
		RetriesLeft: retries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("queue/redis: marshal job: %w", err)
	}

	if err := q.client.HSet(ctx, jobKey(rec.ID), map[string]any{
		"data":   raw,
		"status": string(rec.Status),
	}).Err(); err != nil {
		return "", fmt.Errorf("queue/redis: hset job metadata: %w", err)
	}
	if err := q.client.RPush(ctx, jobsKey, raw).Err(); err != nil {
		return "", fmt.Errorf("queue/redis: rpush job: %w", err)
	}
	return rec.ID, nil
}

// Fetch implements queue.Queue.
func (q *Queue) Fetch(ctx context.Context, workerID string, timeout time.Duration) (*queue.Job, error) {
	raw, err := q.client.BLMove(ctx, jobsKey, processingKey(workerID), "LEFT", "RIGHT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue/redis: blmove: %w", err)
	}

	var rec jobRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("queue/redis: unmarshal job: %w", err)
	}

	if err := q.setStatus(ctx, rec.ID, queue.StatusRunning); err != nil {
		return nil, err
	}
	rec.Status = queue.StatusRunning
	return rec.toJob(), nil
}

// Complete implements queue.Queue.
func (q *Queue) Complete(ctx context.Context, workerID, jobID string, result any) error {
	if err := q.client.LPop(ctx, processingKey(workerID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("queue/redis: lpop processing: %w", err)
	}
	return q.storeResult(ctx, jobID, map[string]any{"status": string(queue.StatusSuccess), "result": result})
}

// Fail implements queue.Queue.
func (q *Queue) Fail(ctx context.Context, workerID, jobID string, errMsg string) error {
	if err := q.client.LPop(ctx, processingKey(workerID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("queue/redis: lpop processing: %w", err)
	}

	raw, err := q.client.HGet(ctx, jobKey(jobID), "data").Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("queue/redis: job %q not found", jobID)
	}
	if err != nil {
		return fmt.Errorf("queue/redis: hget job data: %w", err)
	}

	var rec jobRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("queue/redis: unmarshal job: %w", err)
	}

	if rec.RetriesLeft > 0 {
		rec.RetriesLeft--
		rec.Status = queue.StatusPending
		rec.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("queue/redis: marshal requeued job: %w", err)
		}
		if err := q.client.HSet(ctx, jobKey(jobID), "data", updated).Err(); err != nil {
			return fmt.Errorf("queue/redis: hset requeued job: %w", err)
		}
		if err := q.setStatus(ctx, jobID, queue.StatusPending); err != nil {
			return err
		}
		if err := q.client.RPush(ctx, jobsKey, updated).Err(); err != nil {
			return fmt.Errorf("queue/redis: rpush requeued job: %w", err)
		}
		return nil
	}

	return q.storeResult(ctx, jobID, map[string]any{"status": string(queue.StatusFailed), "error": errMsg})
}

func (q *Queue) storeResult(ctx context.Context, jobID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("queue/redis: marshal result: %w", err)
	}
	if err := q.client.Set(ctx, resultKey(jobID), raw, time.Hour).Err(); err != nil {
		return fmt.Errorf("queue/redis: set result: %w", err)
	}

	status := queue.StatusFailed
	if m, ok := result.(map[string]any); ok {
		if s, ok := m["status"].(string); ok && s == string(queue.StatusSuccess) {
			status = queue.StatusSuccess
		}
	}
	return q.setStatus(ctx, jobID, status)
}

func (q *Queue) setStatus(ctx context.Context, jobID string, status queue.Status) error {
	if err := q.client.HSet(ctx, jobKey(jobID), "status", string(status)).Err(); err != nil {
		return fmt.Errorf("queue/redis: hset status: %w", err)
	}
	return nil
}

// Heartbeat implements queue.Queue.
func (q *Queue) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	if err := q.client.SetEx(ctx, workerKey(workerID), "alive", ttl).Err(); err != nil {
		return fmt.Errorf("queue/redis: setex heartbeat: %w", err)
	}
	return nil
}

// RecoverDeadWorkers implements queue.Queue.
func (q *Queue) RecoverDeadWorkers(ctx context.Context) ([]string, error) {
	var dead []string

	iter := q.client.Scan(ctx, 0, "processing:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		workerID := strings.TrimPrefix(key, "processing:")

		exists, err := q.client.Exists(ctx, workerKey(workerID)).Result()
		if err != nil {
			return dead, fmt.Errorf("queue/redis: exists worker heartbeat: %w", err)
		}
		if exists > 0 {
			continue
		}

		for {
			moved, err := q.client.RPopLPush(ctx, key, jobsKey).Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return dead, fmt.Errorf("queue/redis: rpoplpush recovery: %w", err)
			}
			if moved == "" {
				break
			}
			var rec jobRecord
			if err := json.Unmarshal([]byte(moved), &rec); err != nil {
				return dead, fmt.Errorf("queue/redis: decode recovered job: %w", err)
			}
			if err := q.setStatus(ctx, rec.ID, queue.StatusPending); err != nil {
				return dead, err
			}
		}
		if err := q.client.Del(ctx, key).Err(); err != nil {
			return dead, fmt.Errorf("queue/redis: del drained processing list: %w", err)
		}
		dead = append(dead, workerID)
	}
	if err := iter.Err(); err != nil {
		return dead, fmt.Errorf("queue/redis: scan processing keys: %w", err)
	}
	return dead, nil
}

// FetchResult implements queue.Queue.
func (q *Queue) FetchResult(ctx context.Context, jobID string) (json.RawMessage, bool, error) {
	raw, err := q.client.Get(ctx, resultKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("queue/redis: get result: %w", err)
	}
	return raw, true, nil
}

// Status implements queue.Queue.
func (q *Queue) Status(ctx context.Context, jobID string) (queue.Status, error) {
	status, err := q.client.HGet(ctx, jobKey(jobID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("queue/redis: job %q not found", jobID)
	}
	if err != nil {
		return "", fmt.Errorf("queue/redis: hget status: %w", err)
	}
	return queue.Status(status), nil
}

// Length implements queue.Queue.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, jobsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue/redis: llen: %w", err)
	}
	return n, nil
}
