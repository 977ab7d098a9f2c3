package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStableAcrossMapKeyOrder(t *testing.T) {
	t.Parallel()

	a, err := New("do the thing",
		map[string]any{"max_steps": float64(10), "max_tokens": float64(1000)},
		map[string]any{"model": "gpt", "temperature": float64(0.2)},
		[]ToolDescriptor{{Name: "search"}})
	require.NoError(t, err)

	b, err := New("do the thing",
		map[string]any{"max_tokens": float64(1000), "max_steps": float64(10)},
		map[string]any{"temperature": float64(0.2), "model": "gpt"},
		[]ToolDescriptor{{Name: "search"}})
	require.NoError(t, err)

	hashA, err := a.Hash()
	require.NoError(t, err)
	hashB, err := b.Hash()
	require.NoError(t, err)
	require.Equal(t, hashA, hashB)
}

func TestHashDiffersOnSubstantiveChange(t *testing.T) {
	t.Parallel()

	base, err := New("task-a", nil, nil, nil)
	require.NoError(t, err)
	baseHash, err := base.Hash()
	require.NoError(t, err)

	cases := []*ExecutionSnapshot{
		mustSnapshot(t, "task-b", nil, nil, nil),
		mustSnapshot(t, "task-a", map[string]any{"max_steps": float64(1)}, nil, nil),
		mustSnapshot(t, "task-a", nil, map[string]any{"model": "x"}, nil),
		mustSnapshot(t, "task-a", nil, nil, []ToolDescriptor{{Name: "search"}}),
	}
	for _, c := range cases {
		h, err := c.Hash()
		require.NoError(t, err)
		require.NotEqual(t, baseHash, h)
	}
}

func mustSnapshot(t *testing.T, task string, policy, agent map[string]any, tools []ToolDescriptor) *ExecutionSnapshot {
	t.Helper()
	s, err := New(task, policy, agent, tools)
	require.NoError(t, err)
	return s
}

func TestToolConfigOrderPreserved(t *testing.T) {
	t.Parallel()

	forward, err := New("t", nil, nil, []ToolDescriptor{{Name: "a"}, {Name: "b"}})
	require.NoError(t, err)
	reversed, err := New("t", nil, nil, []ToolDescriptor{{Name: "b"}, {Name: "a"}})
	require.NoError(t, err)

	hashForward, err := forward.Hash()
	require.NoError(t, err)
	hashReversed, err := reversed.Hash()
	require.NoError(t, err)
	require.NotEqual(t, hashForward, hashReversed)
}

func TestValidateToolConfigRejectsMissingName(t *testing.T) {
	t.Parallel()

	_, err := New("t", nil, nil, []ToolDescriptor{{Description: "no name"}})
	require.Error(t, err)
}

func TestVerifyHash(t *testing.T) {
	t.Parallel()

	s, err := New("t", nil, nil, nil)
	require.NoError(t, err)
	h, err := s.Hash()
	require.NoError(t, err)

	require.NoError(t, s.VerifyHash(h))
	require.ErrorIs(t, s.VerifyHash("deadbeef"), ErrHashMismatch)
}
