// Package graph provides a dependency graph for subtask scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrCycleDetected indicates a circular dependency was found in the graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownDependency indicates an edge points at a node that was never added.
var ErrUnknownDependency = errors.New("unknown dependency")

// Node is a vertex in the graph. DependsOn lists the IDs that must complete first.
type Node struct {
	ID        string
	DependsOn []string
}

// DependencyGraph represents a directed acyclic graph of node dependencies.
// Edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// order keeps node IDs in insertion order so iteration is deterministic.
	order []string
	// edges maps node ID to IDs of nodes it depends on.
	edges map[string][]string
	// completed tracks which nodes have been marked complete.
	completed map[string]bool
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build constructs a graph from nodes.
// Returns an error if a cycle is detected or a dependency references an unknown node.
func Build(nodes []Node) (*DependencyGraph, error) {
	g := New()

	for _, n := range nodes {
		if _, dup := g.edges[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %s", n.ID)
		}
		g.order = append(g.order, n.ID)
		g.edges[n.ID] = nil
	}

	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, exists := g.edges[dep]; !exists {
				return nil, fmt.Errorf("node %s depends on %s: %w", n.ID, dep, ErrUnknownDependency)
			}
			g.edges[n.ID] = append(g.edges[n.ID], dep)
		}
	}

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}
	return g, nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.order))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns node IDs so that every dependency precedes its dependents.
// Ties are broken by insertion order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.order))
	result := make([]string, 0, len(g.order))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.edges[id] {
			visit(dep)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// Ready returns IDs that are not complete and whose dependencies are all complete,
// in insertion order. These can run in parallel.
func (g *DependencyGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if g.completed[id] {
			continue
		}
		ok := true
		for _, dep := range g.edges[id] {
			if !g.completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkComplete marks a node as completed. This affects subsequent calls to Ready.
func (g *DependencyGraph) MarkComplete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[id] = true
}

// Done reports whether every node is complete.
func (g *DependencyGraph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.order {
		if !g.completed[id] {
			return false
		}
	}
	return true
}

// Size returns the number of nodes in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Dependencies returns the IDs the given node depends on.
func (g *DependencyGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// Dependents returns the IDs of nodes that depend on the given node, sorted.
func (g *DependencyGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for node, deps := range g.edges {
		for _, dep := range deps {
			if dep == id {
				out = append(out, node)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Independent reports whether neither node transitively depends on the other.
func (g *DependencyGraph) Independent(a, b string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.reachesLocked(a, b) && !g.reachesLocked(b, a)
}

func (g *DependencyGraph) reachesLocked(from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.edges[id] {
			if dep == to {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}
