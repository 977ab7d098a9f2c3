// Command worker runs the distributed job-processing loop: it fetches
// submitted tasks off the shared Redis queue, drives each one through the
// orchestrator, and runs a heartbeat plus a reaper for dead-worker
// recovery, per spec.md §6's CLI-as-external-collaborator scoping. It also
// performs crash recovery of any executions left active by a prior
// process on the same Redis instance before serving new jobs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	eventstoreredis "github.com/yashsham/open-agent-orchestrator/eventstore/redis"
	"github.com/yashsham/open-agent-orchestrator/orchestrator"
	"github.com/yashsham/open-agent-orchestrator/policy"
	"github.com/yashsham/open-agent-orchestrator/queue"
	queueredis "github.com/yashsham/open-agent-orchestrator/queue/redis"
	"github.com/yashsham/open-agent-orchestrator/recovery"
	"github.com/yashsham/open-agent-orchestrator/snapshot"
	storeredis "github.com/yashsham/open-agent-orchestrator/store/redis"
	"github.com/yashsham/open-agent-orchestrator/telemetry"

	"goa.design/clue/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		redisAddr          = flag.String("redis-addr", "localhost:6379", "Redis address")
		workerID           = flag.String("worker-id", "", "Unique worker identifier (defaults to hostname-pid)")
		fetchTimeout       = flag.Duration("fetch-timeout", 5*time.Second, "Blocking timeout per queue fetch")
		heartbeatInterval  = flag.Duration("heartbeat-interval", 5*time.Second, "Heartbeat renewal interval")
		reapInterval       = flag.Duration("reap-interval", 10*time.Second, "Dead-worker recovery scan interval")
		maxRecoverAttempts = flag.Int64("max-recovery-attempts", recovery.DefaultMaxAttempts, "Max crash-recovery attempts per execution")
	)
	flag.Parse()

	ctx := log.Context(context.Background())
	logger := telemetry.NewClueLogger()
	bundle := telemetry.Bundle{Logger: logger, Metrics: telemetry.NewOtelMetrics(), Tracer: telemetry.NewOtelTracer()}

	if *workerID == "" {
		host, _ := os.Hostname()
		*workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	client := goredis.NewClient(&goredis.Options{Addr: *redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error(ctx, "worker: failed to connect to redis", "addr", *redisAddr, "error", err)
		return 1
	}
	defer client.Close()

	events := eventstoreredis.New(client)
	persistence := storeredis.New(client)
	q := queueredis.New(client)

	newOrchestrator := func(agent orchestrator.Agent) *orchestrator.Orchestrator {
		return &orchestrator.Orchestrator{Events: events, Store: persistence, Agent: agent, Telemetry: bundle}
	}

	recoverer := &recovery.Manager{
		Store:           persistence,
		Events:          events,
		AgentFactory:    defaultAgentFactory,
		NewOrchestrator: newOrchestrator,
		MaxAttempts:     *maxRecoverAttempts,
		Telemetry:       bundle,
	}
	recoverer.RecoverAll(ctx)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &queue.Worker{
		Queue:   q,
		Handler: jobHandler(newOrchestrator),
		Options: queue.WorkerOptions{
			WorkerID:          *workerID,
			FetchTimeout:      *fetchTimeout,
			HeartbeatInterval: *heartbeatInterval,
			Telemetry:         bundle,
		},
	}
	reaper := &queue.Reaper{Queue: q, Interval: *reapInterval, Telemetry: bundle}

	errCh := make(chan error, 2)
	go func() { errCh <- w.Run(runCtx) }()
	go func() { errCh <- reaper.Run(runCtx) }()

	<-runCtx.Done()
	logger.Info(ctx, "worker: shutting down", "worker_id", *workerID)

	// Drain both loops' exit errors; each returns ctx.Err() on a clean
	// shutdown signal, which is not itself a failure.
	for i := 0; i < 2; i++ {
		<-errCh
	}

	if runCtx.Err() != nil {
		return 130
	}
	return 0
}

// jobPayload is the wire shape queue.Job.Payload is expected to unmarshal
// into: a task description plus the policy/agent configuration an
// ExecutionSnapshot needs.
type jobPayload struct {
	Task         string                    `json:"task"`
	PolicyConfig map[string]any            `json:"policy_config"`
	AgentConfig  map[string]any            `json:"agent_config"`
	ToolConfig   []snapshot.ToolDescriptor `json:"tool_config"`
}

func jobHandler(newOrchestrator func(orchestrator.Agent) *orchestrator.Orchestrator) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		var payload jobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("worker: unmarshal job payload: %w", err)
		}

		snap, err := snapshot.New(payload.Task, payload.PolicyConfig, payload.AgentConfig, payload.ToolConfig)
		if err != nil {
			return nil, fmt.Errorf("worker: build snapshot: %w", err)
		}

		agent, err := defaultAgentFactory(payload.AgentConfig)
		if err != nil {
			return nil, fmt.Errorf("worker: build agent: %w", err)
		}

		orch := newOrchestrator(agent)
		result, err := orch.Run(ctx, orchestrator.RunRequest{
			ExecutionID: job.ID,
			Task:        payload.Task,
			Snapshot:    snap,
			Policy:      policyOptionsFromConfig(payload.PolicyConfig),
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// passthroughAgent plans, executes, and reviews by returning its input
// unchanged. The orchestration core makes no model calls of its own (per
// spec.md §1's non-goals); production deployments supply a real Agent via
// a framework adapter instead of the CLI's default.
type passthroughAgent struct{}

func (passthroughAgent) Plan(_ context.Context, task string) (string, error)    { return task, nil }
func (passthroughAgent) Execute(_ context.Context, plan string) (string, error) { return plan, nil }
func (passthroughAgent) Review(_ context.Context, output string) (string, error) {
	return output, nil
}

func defaultAgentFactory(map[string]any) (orchestrator.Agent, error) {
	return passthroughAgent{}, nil
}

// policyOptionsFromConfig reads the same max_steps/max_tokens/
// max_tool_calls/timeout_seconds keys recovery.Manager reconstructs from a
// snapshot's policy_config, so a submitted job's budget survives a crash
// and resume identically to how it was first enforced.
func policyOptionsFromConfig(cfg map[string]any) policy.Options {
	asInt := func(key string) int64 {
		switch v := cfg[key].(type) {
		case float64:
			return int64(v)
		case int64:
			return v
		case int:
			return int64(v)
		default:
			return 0
		}
	}
	asFloat := func(key string) float64 {
		switch v := cfg[key].(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case int:
			return float64(v)
		default:
			return 0
		}
	}
	return policy.Options{
		MaxSteps:       asInt("max_steps"),
		MaxTokens:      asInt("max_tokens"),
		MaxToolCalls:   asInt("max_tool_calls"),
		TimeoutSeconds: asFloat("timeout_seconds"),
	}
}
