// Command submit enqueues a single task onto the distributed job queue
// (for cmd/worker to pick up) or runs it synchronously against the
// in-memory engine, per spec.md §6's CLI-as-external-collaborator scoping.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yashsham/open-agent-orchestrator/engine"
	"github.com/yashsham/open-agent-orchestrator/engine/inmem"
	eventstoreinmem "github.com/yashsham/open-agent-orchestrator/eventstore/inmem"
	"github.com/yashsham/open-agent-orchestrator/orchestrator"
	queueredis "github.com/yashsham/open-agent-orchestrator/queue/redis"
	"github.com/yashsham/open-agent-orchestrator/report"
	"github.com/yashsham/open-agent-orchestrator/snapshot"
	storeinmem "github.com/yashsham/open-agent-orchestrator/store/inmem"
	"github.com/yashsham/open-agent-orchestrator/telemetry"

	"goa.design/clue/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		task       = flag.String("task", "", "Task description to submit (required)")
		redisAddr  = flag.String("redis-addr", "", "Redis address; if unset, runs synchronously against an in-memory engine instead of enqueuing")
		retries    = flag.Int("retries", 3, "Number of retries allowed before the job is marked permanently failed")
		waitResult = flag.Duration("wait", 30*time.Second, "How long to wait for a distributed job's result before giving up (0 = submit and exit immediately)")
	)
	flag.Parse()

	ctx := log.Context(context.Background())
	logger := telemetry.NewClueLogger()

	if *task == "" {
		logger.Error(ctx, "submit: -task is required")
		return 1
	}

	if *redisAddr == "" {
		return runSync(ctx, logger, *task)
	}
	return runDistributed(ctx, logger, *redisAddr, *task, *retries, *waitResult)
}

// runSync drives task through the orchestrator's loop via the in-memory
// engine and waits for the result, demonstrating the async entry point
// spec.md §4.7 guarantees is semantically identical to calling
// Orchestrator.Run directly.
func runSync(ctx context.Context, logger telemetry.Logger, task string) int {
	snap, err := snapshot.New(task, map[string]any{}, map[string]any{}, nil)
	if err != nil {
		logger.Error(ctx, "submit: build snapshot", "error", err)
		return 1
	}

	orch := &orchestrator.Orchestrator{
		Events: eventstoreinmem.New(),
		Store:  storeinmem.New(),
		Agent:  passthroughAgent{},
	}

	eng := inmem.New(logger, nil, nil)
	if err := orch.RegisterWith(ctx, eng); err != nil {
		logger.Error(ctx, "submit: register workflow", "error", err)
		return 1
	}

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		Workflow: orchestrator.WorkflowName,
		Input:    orchestrator.RunRequest{Task: task, Snapshot: snap},
	})
	if err != nil {
		logger.Error(ctx, "submit: start workflow", "error", err)
		return 1
	}

	var result report.ExecutionReport
	if err := handle.Wait(ctx, &result); err != nil {
		logger.Error(ctx, "submit: execution failed", "error", err)
		return 1
	}

	raw, err := json.Marshal(&result)
	if err != nil {
		logger.Error(ctx, "submit: marshal execution report", "error", err)
		return 1
	}
	fmt.Println(string(raw))
	return 0
}

// runDistributed enqueues task onto the Redis job queue for a cmd/worker
// process to pick up, optionally polling for its result.
func runDistributed(ctx context.Context, logger telemetry.Logger, redisAddr, task string, retries int, wait time.Duration) int {
	client := goredis.NewClient(&goredis.Options{Addr: redisAddr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error(ctx, "submit: failed to connect to redis", "addr", redisAddr, "error", err)
		return 1
	}

	payload, err := json.Marshal(map[string]any{
		"task":          task,
		"policy_config": map[string]any{},
		"agent_config":  map[string]any{},
	})
	if err != nil {
		logger.Error(ctx, "submit: marshal payload", "error", err)
		return 1
	}

	q := queueredis.New(client)
	jobID, err := q.Submit(ctx, payload, retries)
	if err != nil {
		logger.Error(ctx, "submit: enqueue job", "error", err)
		return 1
	}
	logger.Info(ctx, "submit: job enqueued", "job_id", jobID)

	if wait <= 0 {
		fmt.Println(jobID)
		return 0
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		raw, ok, err := q.FetchResult(ctx, jobID)
		if err != nil {
			logger.Error(ctx, "submit: fetch result", "error", err)
			return 1
		}
		if ok {
			fmt.Println(string(raw))
			return 0
		}
		time.Sleep(time.Second)
	}

	logger.Error(ctx, "submit: timed out waiting for result", "job_id", jobID)
	return 1
}

// passthroughAgent mirrors cmd/worker's default: the orchestration core
// makes no model calls of its own, so the CLI's synchronous mode uses a
// no-op agent purely to exercise the lifecycle end to end.
type passthroughAgent struct{}

func (passthroughAgent) Plan(_ context.Context, task string) (string, error)    { return task, nil }
func (passthroughAgent) Execute(_ context.Context, plan string) (string, error) { return plan, nil }
func (passthroughAgent) Review(_ context.Context, output string) (string, error) {
	return output, nil
}
