// Package snapshot defines the immutable ExecutionSnapshot and its
// deterministic content hash, grounded on
// original_source/oao/runtime/hashing.py's compute_execution_hash: a
// canonical, sorted-key JSON serialization hashed with SHA-256. Go's
// encoding/json already sorts map[string]any keys lexicographically on
// marshal, so no hand-rolled canonicalization step is needed (see
// DESIGN.md for why no ecosystem canonical-JSON library improves on this).
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// RuntimeVersion is the content-hash version pin, analogous to
// oao.__version__ in compute_execution_hash. Snapshots taken under
// different RuntimeVersion values are never guaranteed to hash equal, per
// spec.md's non-goal on cross-version hash stability.
const RuntimeVersion = "1.0.0"

// ToolDescriptor is one entry of a snapshot's ordered tool_config sequence.
type ToolDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ExecutionSnapshot is the immutable configuration an Execution is bound
// to: a task, its policy and agent configuration, and the ordered set of
// tools available to the agent. Once constructed and hashed, a
// snapshot's fields are never mutated.
type ExecutionSnapshot struct {
	Task           string           `json:"task"`
	PolicyConfig   map[string]any   `json:"policy_config"`
	AgentConfig    map[string]any   `json:"agent_config"`
	ToolConfig     []ToolDescriptor `json:"tool_config"`
	RuntimeVersion string           `json:"runtime_version"`
}

// New constructs an ExecutionSnapshot with RuntimeVersion defaulted to
// snapshot.RuntimeVersion, validates its tool_config against
// toolConfigSchema, and returns an error if validation fails.
func New(task string, policyConfig, agentConfig map[string]any, toolConfig []ToolDescriptor) (*ExecutionSnapshot, error) {
	s := &ExecutionSnapshot{
		Task:           task,
		PolicyConfig:   policyConfig,
		AgentConfig:    agentConfig,
		ToolConfig:     toolConfig,
		RuntimeVersion: RuntimeVersion,
	}
	if err := s.ValidateToolConfig(); err != nil {
		return nil, err
	}
	return s, nil
}

var toolConfigSchema = mustCompileToolConfigSchema()

const toolConfigSchemaText = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"tags": {"type": "array", "items": {"type": "string"}}
	}
}`

func mustCompileToolConfigSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(toolConfigSchemaText), &doc); err != nil {
		panic(fmt.Sprintf("snapshot: invalid embedded tool_config schema: %v", err))
	}
	const resourceURL = "mem://tool_config.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceURL, doc); err != nil {
		panic(fmt.Sprintf("snapshot: adding embedded tool_config schema: %v", err))
	}
	schema, err := c.Compile(resourceURL)
	if err != nil {
		panic(fmt.Sprintf("snapshot: compiling embedded tool_config schema: %v", err))
	}
	return schema
}

// ValidateToolConfig validates every descriptor in s.ToolConfig against the
// required {name, description?, tags?} shape, catching malformed snapshots
// before they are hashed and persisted — a check the Python original
// lacked (hashing.py's tool_config loop silently swallows exceptions).
func (s *ExecutionSnapshot) ValidateToolConfig() error {
	for i, td := range s.ToolConfig {
		raw, err := json.Marshal(td)
		if err != nil {
			return fmt.Errorf("snapshot: marshal tool_config[%d]: %w", i, err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("snapshot: unmarshal tool_config[%d]: %w", i, err)
		}
		if err := toolConfigSchema.Validate(v); err != nil {
			return fmt.Errorf("snapshot: tool_config[%d] invalid: %w", i, err)
		}
	}
	return nil
}

// canonical is the wire shape hashed and compared: field order and
// presence must exactly match original_source/oao/runtime/hashing.py's
// constructed dict, so that equivalent snapshots produce equal hashes.
type canonical struct {
	Task           string           `json:"task"`
	PolicyConfig   map[string]any   `json:"policy_config"`
	AgentConfig    map[string]any   `json:"agent_config"`
	ToolConfig     []ToolDescriptor `json:"tool_config"`
	RuntimeVersion string           `json:"runtime_version"`
}

// CanonicalJSON returns the deterministic JSON serialization s is hashed
// from. Map-typed fields are marshaled with keys sorted lexicographically
// by encoding/json; ToolConfig's order is preserved since it is an ordered
// sequence, not a map.
func (s *ExecutionSnapshot) CanonicalJSON() ([]byte, error) {
	return json.Marshal(canonical{
		Task:           s.Task,
		PolicyConfig:   s.PolicyConfig,
		AgentConfig:    s.AgentConfig,
		ToolConfig:     s.ToolConfig,
		RuntimeVersion: s.RuntimeVersion,
	})
}

// Hash returns the SHA-256 content hash of s's canonical serialization, hex
// encoded. Identical snapshots (including identical map key insertion
// order, which is irrelevant — see CanonicalJSON) on the same
// RuntimeVersion always hash equal.
func (s *ExecutionSnapshot) Hash() (string, error) {
	raw, err := s.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("snapshot: canonical json: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ErrHashMismatch indicates a loaded snapshot's recomputed hash no longer
// matches its recorded hash, suggesting storage corruption.
var ErrHashMismatch = errors.New("snapshot: hash mismatch")

// VerifyHash recomputes s's hash and compares it to want, returning
// ErrHashMismatch on mismatch. Used by the recovery manager's integrity
// check (spec.md §4.10 step 4).
func (s *ExecutionSnapshot) VerifyHash(want string) error {
	got, err := s.Hash()
	if err != nil {
		return err
	}
	if got != want {
		return ErrHashMismatch
	}
	return nil
}
