// Package dag assembles TaskNodes into a TaskGraph and derives a
// level-by-level execution order, grounded on
// original_source/oao/runtime/dag.py's TaskNode/TaskGraph: unknown
// dependency and cycle validation, and Kahn's-algorithm level ordering
// translated idiomatically into Go.
package dag

import "fmt"

// TaskNode is one unit of work in a TaskGraph: an agent identified by
// name, the names of the nodes it depends on, and the result slot later
// levels read from once this node's orchestrator run completes.
type TaskNode struct {
	Name         string
	Agent        string
	Dependencies []string
	Result       string
}

// TaskGraph is a set of TaskNodes addressed by name.
type TaskGraph struct {
	nodes map[string]*TaskNode
	order []string
}

// New returns an empty TaskGraph.
func New() *TaskGraph {
	return &TaskGraph{nodes: make(map[string]*TaskNode)}
}

// AddNode adds node to the graph. It returns an error if a node with the
// same name already exists.
func (g *TaskGraph) AddNode(node *TaskNode) error {
	if _, exists := g.nodes[node.Name]; exists {
		return fmt.Errorf("dag: node %q already exists in graph", node.Name)
	}
	g.nodes[node.Name] = node
	g.order = append(g.order, node.Name)
	return nil
}

// GetNode returns the node named name, or an error if it is not present.
func (g *TaskGraph) GetNode(name string) (*TaskNode, error) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("dag: node %q not found in graph", name)
	}
	return n, nil
}

// Validate rejects unknown dependency names and cycles, checking cycles
// with a depth-first search over a recursion stack.
func (g *TaskGraph) Validate() error {
	for name, node := range g.nodes {
		for _, dep := range node.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("dag: node %q depends on %q, which doesn't exist in graph", name, dep)
			}
		}
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var hasCycle func(name string) bool
	hasCycle = func(name string) bool {
		visited[name] = true
		onStack[name] = true
		for _, dep := range g.nodes[name].Dependencies {
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if onStack[dep] {
				return true
			}
		}
		onStack[name] = false
		return false
	}

	for _, name := range g.order {
		if !visited[name] {
			if hasCycle(name) {
				return fmt.Errorf("dag: graph contains a cycle involving %q", name)
			}
		}
	}
	return nil
}

// GetExecutionOrder returns the graph's nodes grouped into levels via
// Kahn's algorithm: level 0 holds every node with no dependencies, level
// k+1 holds nodes whose dependencies are entirely satisfied by levels
// 0..k. Nodes within a level may run concurrently; levels are strictly
// sequential. Returns an error if the graph contains a cycle (a residue of
// unprocessed nodes after draining).
func (g *TaskGraph) GetExecutionOrder() ([][]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	adj := make(map[string][]string)
	for name := range g.nodes {
		inDegree[name] = 0
	}
	for name, node := range g.nodes {
		for _, dep := range node.Dependencies {
			adj[dep] = append(adj[dep], name)
			inDegree[name]++
		}
	}

	var frontier []string
	for _, name := range g.order {
		if inDegree[name] == 0 {
			frontier = append(frontier, name)
		}
	}

	var levels [][]string
	processed := 0
	for len(frontier) > 0 {
		level := frontier
		frontier = nil
		for _, name := range level {
			processed++
			for _, neighbor := range adj[name] {
				inDegree[neighbor]--
				if inDegree[neighbor] == 0 {
					frontier = append(frontier, neighbor)
				}
			}
		}
		levels = append(levels, level)
	}

	if processed != len(g.nodes) {
		return nil, fmt.Errorf("dag: graph contains a cycle")
	}
	return levels, nil
}
