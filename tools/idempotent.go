// Package tools wraps agent-exposed tool callables with at-most-once,
// content-hash-keyed deduplication, consulting the event log for a prior
// successful call before re-invoking. It generalizes the tag-based opt-in
// idea of goa-ai's runtime/agent/tools.IdempotencyScope into the spec's
// unconditional per-call content-hash dedup (spec.md §4.6): every tool
// call is deduplicated by sha256(canonical_json({name, args, kwargs}))
// within the current execution, with no opt-in tag required.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yashsham/open-agent-orchestrator/eventmodel"
	"github.com/yashsham/open-agent-orchestrator/eventstore"
	"github.com/yashsham/open-agent-orchestrator/policy"
)

// Func is an agent-exposed tool callable. result must be JSON-marshalable.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (result any, err error)

// Counters is the mutable step/tool-call bookkeeping shared with the
// orchestrator driving this execution. Safe to share unguarded because
// within one execution, tool calls happen on a single cooperative
// sequence (spec.md §5).
type Counters struct {
	Steps     int64
	Tokens    int64
	ToolCalls int64
}

// NextStep returns the step number to assign to the wrapper's next
// appended event.
type NextStep func() int64

// Wrapper dedupes calls to one named tool within one execution.
type Wrapper struct {
	Name        string
	Fn          Func
	Store       eventstore.Store
	Policy      *policy.Policy
	ExecutionID string
	NextStep    NextStep
	Counters    *Counters
}

type toolPayload struct {
	ToolHash string          `json:"tool_hash"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// CanonicalKey returns sha256(canonical_json({name, args, kwargs})) hex
// encoded. Go's encoding/json sorts kwargs' keys lexicographically on
// marshal, matching the canonicalization spec.md §4.6 requires.
func CanonicalKey(name string, args []any, kwargs map[string]any) (string, error) {
	raw, err := json.Marshal(struct {
		Name   string         `json:"name"`
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs"`
	}{Name: name, Args: args, Kwargs: kwargs})
	if err != nil {
		return "", fmt.Errorf("tools: canonicalize call: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Call runs the wrapped tool, deduplicating against prior TOOL_CALL_SUCCESS
// events in the current execution with the same content hash. On a hit, it
// appends IDEMPOTENT_TOOL_SKIPPED and returns the stored result without
// invoking Fn. Otherwise it increments the shared tool-call counter, runs
// policy validation, invokes Fn, and appends TOOL_CALL_SUCCESS or
// TOOL_CALL_FAILED before returning.
func (w *Wrapper) Call(ctx context.Context, args []any, kwargs map[string]any) (json.RawMessage, error) {
	key, err := CanonicalKey(w.Name, args, kwargs)
	if err != nil {
		return nil, err
	}

	if prior, ok, err := w.findPriorSuccess(ctx, key); err != nil {
		return nil, err
	} else if ok {
		if err := w.appendEvent(ctx, eventmodel.IdempotentToolSkipped, nil, mustMarshalPayload(key, prior)); err != nil {
			return nil, err
		}
		return prior, nil
	}

	w.Counters.ToolCalls++
	if w.Policy != nil {
		if err := w.Policy.Validate(ctx, policy.Context{
			StepCount:  w.Counters.Steps,
			TokenUsage: w.Counters.Tokens,
			ToolCalls:  w.Counters.ToolCalls,
		}); err != nil {
			return nil, err
		}
	}

	input, err := json.Marshal(struct {
		Name   string         `json:"name"`
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs"`
	}{Name: w.Name, Args: args, Kwargs: kwargs})
	if err != nil {
		return nil, fmt.Errorf("tools: marshal call input: %w", err)
	}
	if err := w.appendEvent(ctx, eventmodel.ToolCall, input, nil); err != nil {
		return nil, err
	}

	result, callErr := w.Fn(ctx, args, kwargs)
	if callErr != nil {
		_ = w.appendFailure(ctx, key, callErr)
		return nil, callErr
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		err = fmt.Errorf("tools: marshal result: %w", err)
		_ = w.appendFailure(ctx, key, err)
		return nil, err
	}

	if err := w.appendEvent(ctx, eventmodel.ToolCallSuccess, nil, mustMarshalPayload(key, resultJSON)); err != nil {
		return nil, err
	}
	return resultJSON, nil
}

func (w *Wrapper) appendFailure(ctx context.Context, key string, callErr error) error {
	e := w.newEvent(eventmodel.ToolCallFailed, nil, mustMarshalPayload(key, nil))
	e.Error = callErr.Error()
	return w.Store.Append(ctx, e)
}

func (w *Wrapper) findPriorSuccess(ctx context.Context, key string) (json.RawMessage, bool, error) {
	events, err := w.Store.Get(ctx, w.ExecutionID, 0, -1)
	if err != nil {
		return nil, false, fmt.Errorf("tools: read prior events: %w", err)
	}
	for _, e := range events {
		if e.Type != eventmodel.ToolCallSuccess {
			continue
		}
		var payload toolPayload
		if err := json.Unmarshal(e.OutputData, &payload); err != nil {
			continue
		}
		if payload.ToolHash == key {
			return payload.Result, true, nil
		}
	}
	return nil, false, nil
}

func (w *Wrapper) newEvent(typ eventmodel.Type, input, output json.RawMessage) *eventmodel.Event {
	return &eventmodel.Event{
		ExecutionID:         w.ExecutionID,
		StepNumber:          w.NextStep(),
		Type:                typ,
		Timestamp:           time.Now(),
		InputData:           input,
		OutputData:          output,
		CumulativeSteps:     w.Counters.Steps,
		CumulativeTokens:    w.Counters.Tokens,
		CumulativeToolCalls: w.Counters.ToolCalls,
	}
}

func (w *Wrapper) appendEvent(ctx context.Context, typ eventmodel.Type, input, output json.RawMessage) error {
	return w.Store.Append(ctx, w.newEvent(typ, input, output))
}

func mustMarshalPayload(toolHash string, result json.RawMessage) json.RawMessage {
	raw, err := json.Marshal(toolPayload{ToolHash: toolHash, Result: result})
	if err != nil {
		// toolPayload has no types that can fail to marshal.
		panic(fmt.Sprintf("tools: marshal payload: %v", err))
	}
	return raw
}
