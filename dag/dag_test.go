package dag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustAdd(t *testing.T, g *TaskGraph, name string, deps ...string) {
	t.Helper()
	require.NoError(t, g.AddNode(&TaskNode{Name: name, Agent: "agent-" + name, Dependencies: deps}))
}

func TestAddNodeRejectsDuplicate(t *testing.T) {
	t.Parallel()

	g := New()
	mustAdd(t, g, "a")
	require.Error(t, g.AddNode(&TaskNode{Name: "a"}))
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	g := New()
	mustAdd(t, g, "a", "missing")
	require.Error(t, g.Validate())
}

func TestValidateRejectsCycle(t *testing.T) {
	t.Parallel()

	g := New()
	mustAdd(t, g, "a", "b")
	mustAdd(t, g, "b", "a")
	require.Error(t, g.Validate())
}

func TestValidateAcceptsDAG(t *testing.T) {
	t.Parallel()

	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c", "a")
	mustAdd(t, g, "d", "b", "c")
	require.NoError(t, g.Validate())
}

func TestGetExecutionOrderLevels(t *testing.T) {
	t.Parallel()

	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c", "a")
	mustAdd(t, g, "d", "b", "c")

	levels, err := g.GetExecutionOrder()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	require.Equal(t, []string{"a"}, levels[0])
	require.ElementsMatch(t, []string{"b", "c"}, levels[1])
	require.Equal(t, []string{"d"}, levels[2])
}

func TestGetExecutionOrderDetectsResidualCycle(t *testing.T) {
	t.Parallel()

	g := &TaskGraph{nodes: map[string]*TaskNode{
		"a": {Name: "a", Dependencies: []string{"b"}},
		"b": {Name: "b", Dependencies: []string{"a"}},
	}, order: []string{"a", "b"}}

	_, err := g.GetExecutionOrder()
	require.Error(t, err)
}

func TestGetNodeNotFound(t *testing.T) {
	t.Parallel()

	g := New()
	_, err := g.GetNode("missing")
	require.Error(t, err)
}
