// Package recovery scans the active-execution registry on startup and
// resumes crashed executions from their event log, grounded on
// original_source/oao/runtime/recovery.py's RecoveryManager: bounded
// recovery attempts, a hash-integrity check of the persisted spec before
// resuming, and replay-from-latest-event to determine the resume point.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yashsham/open-agent-orchestrator/eventstore"
	"github.com/yashsham/open-agent-orchestrator/orchestrator"
	"github.com/yashsham/open-agent-orchestrator/policy"
	"github.com/yashsham/open-agent-orchestrator/snapshot"
	"github.com/yashsham/open-agent-orchestrator/store"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
)

// DefaultMaxAttempts matches original_source/oao/runtime/recovery.py's
// MAX_RECOVERY_ATTEMPTS.
const DefaultMaxAttempts = 3

// AgentFactory reconstructs an orchestrator.Agent from a snapshot's
// agent_config, mirroring the original's AgentFactory.create_agent. The
// core module has no concrete agent implementation of its own, so callers
// supply this.
type AgentFactory func(agentConfig map[string]any) (orchestrator.Agent, error)

// NewOrchestrator builds a fresh Orchestrator bound to agent, sharing the
// recovery manager's event store and persistence adapter.
type NewOrchestrator func(agent orchestrator.Agent) *orchestrator.Orchestrator

// Manager scans for and resumes crashed executions.
type Manager struct {
	Store           store.Store
	Events          eventstore.Store
	AgentFactory    AgentFactory
	NewOrchestrator NewOrchestrator
	MaxAttempts     int64
	Telemetry       telemetry.Bundle
}

func (m *Manager) telemetry() telemetry.Logger {
	if m.Telemetry.Logger == nil {
		return telemetry.NoopBundle().Logger
	}
	return m.Telemetry.Logger
}

func (m *Manager) maxAttempts() int64 {
	if m.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return m.MaxAttempts
}

// RecoverAll lists every active execution and attempts to resume each one,
// launching successful resumes as background goroutines. It should be
// called once, on process startup.
func (m *Manager) RecoverAll(ctx context.Context) {
	logger := m.telemetry()

	ids, err := m.Store.ListActiveExecutions(ctx)
	if err != nil {
		logger.Warn(ctx, "recovery: failed to list active executions", "error", err)
		return
	}
	if len(ids) == 0 {
		logger.Info(ctx, "recovery: no active executions found")
		return
	}
	logger.Info(ctx, "recovery: found active executions, checking for recovery", "count", len(ids))

	for _, id := range ids {
		m.recoverOne(ctx, id)
	}
}

func (m *Manager) recoverOne(ctx context.Context, executionID string) {
	logger := m.telemetry()

	attempts, err := m.Store.GetRecoveryCount(ctx, executionID)
	if err != nil {
		logger.Error(ctx, "recovery: failed to read recovery count", "execution_id", executionID, "error", err)
		return
	}
	if attempts >= m.maxAttempts() {
		logger.Error(ctx, "recovery: exceeded max recovery attempts, marking failed",
			"execution_id", executionID, "attempts", attempts, "max_attempts", m.maxAttempts())
		m.abandon(ctx, executionID)
		return
	}
	if _, err := m.Store.IncrementRecoveryCount(ctx, executionID); err != nil {
		logger.Error(ctx, "recovery: failed to increment recovery count", "execution_id", executionID, "error", err)
		return
	}

	specBytes, err := m.Store.LoadExecutionSpec(ctx, executionID)
	if errors.Is(err, store.ErrSpecNotFound) {
		logger.Warn(ctx, "recovery: skipping, no execution spec found", "execution_id", executionID)
		m.abandon(ctx, executionID)
		return
	}
	if err != nil {
		logger.Error(ctx, "recovery: failed to load execution spec", "execution_id", executionID, "error", err)
		return
	}

	var snap snapshot.ExecutionSnapshot
	if err := json.Unmarshal(specBytes, &snap); err != nil {
		logger.Error(ctx, "recovery: failed to unmarshal execution spec", "execution_id", executionID, "error", err)
		m.abandon(ctx, executionID)
		return
	}

	if err := m.validateHashIntegrity(ctx, executionID, &snap); err != nil {
		logger.Error(ctx, "recovery: hash validation failed, possible state corruption",
			"execution_id", executionID, "error", err)
		m.abandon(ctx, executionID)
		return
	}

	agent, err := m.AgentFactory(snap.AgentConfig)
	if err != nil {
		logger.Error(ctx, "recovery: failed to reconstruct agent", "execution_id", executionID, "error", err)
		m.abandon(ctx, executionID)
		return
	}

	fromStep, err := m.resumePoint(ctx, executionID)
	if err != nil {
		logger.Error(ctx, "recovery: failed to determine resume point", "execution_id", executionID, "error", err)
		m.abandon(ctx, executionID)
		return
	}
	logger.Info(ctx, "recovery: resuming execution", "execution_id", executionID, "from_step", fromStep, "attempt", attempts+1)

	orch := m.NewOrchestrator(agent)
	go m.runRecovery(ctx, orch, executionID, &snap, fromStep)
}

// validateHashIntegrity recomputes snap's content hash and compares it to
// the snapshot_hash recorded in the execution's EXECUTION_STARTED event,
// per spec.md §4.10 step 4.
func (m *Manager) validateHashIntegrity(ctx context.Context, executionID string, snap *snapshot.ExecutionSnapshot) error {
	started, err := m.Events.Get(ctx, executionID, 0, 0)
	if err != nil {
		return fmt.Errorf("recovery: load EXECUTION_STARTED event: %w", err)
	}
	if len(started) == 0 {
		return fmt.Errorf("recovery: no EXECUTION_STARTED event recorded for %q", executionID)
	}

	var payload struct {
		SnapshotHash string `json:"snapshot_hash"`
	}
	if err := json.Unmarshal(started[0].InputData, &payload); err != nil {
		return fmt.Errorf("recovery: unmarshal EXECUTION_STARTED payload: %w", err)
	}

	return snap.VerifyHash(payload.SnapshotHash)
}

func (m *Manager) resumePoint(ctx context.Context, executionID string) (int64, error) {
	latest, err := m.Events.Latest(ctx, executionID)
	if errors.Is(err, eventstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.StepNumber, nil
}

func (m *Manager) runRecovery(ctx context.Context, orch *orchestrator.Orchestrator, executionID string, snap *snapshot.ExecutionSnapshot, fromStep int64) {
	logger := m.telemetry()

	policyOpts := policyOptionsFromConfig(snap.PolicyConfig)
	_, err := orch.Run(ctx, orchestrator.RunRequest{
		ExecutionID: executionID,
		Task:        snap.Task,
		Snapshot:    snap,
		Policy:      policyOpts,
		FromStep:    &fromStep,
	})
	if err != nil {
		logger.Error(ctx, "recovery: resumed execution failed", "execution_id", executionID, "error", err)
		m.abandon(context.WithoutCancel(ctx), executionID)
		return
	}
	logger.Info(ctx, "recovery: resumed execution completed successfully", "execution_id", executionID)
}

func (m *Manager) abandon(ctx context.Context, executionID string) {
	if err := m.Store.RemoveActiveExecution(ctx, executionID); err != nil {
		m.telemetry().Error(ctx, "recovery: failed to remove execution from active set", "execution_id", executionID, "error", err)
	}
}

// policyOptionsFromConfig rebuilds policy.Options from a snapshot's
// policy_config map, mirroring the original's StrictPolicy(max_steps=...,
// max_tokens=...) reconstruction.
func policyOptionsFromConfig(cfg map[string]any) policy.Options {
	return policy.Options{
		MaxSteps:       intFromConfig(cfg, "max_steps"),
		MaxTokens:      intFromConfig(cfg, "max_tokens"),
		MaxToolCalls:   intFromConfig(cfg, "max_tool_calls"),
		TimeoutSeconds: floatFromConfig(cfg, "timeout_seconds"),
	}
}

func intFromConfig(cfg map[string]any, key string) int64 {
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

func floatFromConfig(cfg map[string]any, key string) float64 {
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
