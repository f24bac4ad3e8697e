package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph is the graph of handler ordering constraints. Each node is a
// resource type; an edge from A to B means B declared After: [A] and therefore
// needs A's mutations to be visible before it runs.
type DependencyGraph struct {
	// priorities maps resource types to their registered priority
	priorities map[string]int

	// order is the registration order, used for stable output
	order []string

	// adjacencyList maps a type to the types that run after it
	adjacencyList map[string][]string

	// reverseAdjacencyList maps a type to the types it runs after
	reverseAdjacencyList map[string][]string

	// levels groups types that have no ordering constraint between them
	levels [][]string
}

// BuildDependencyGraph validates the After edges of the registrations and
// computes their levels. Every edge must point at a registered type with a
// strictly lower priority, so the priority order alone already honors it.
func BuildDependencyGraph(regs []Registration) (*DependencyGraph, error) {
	g := &DependencyGraph{
		priorities:           make(map[string]int, len(regs)),
		order:                make([]string, 0, len(regs)),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		levels:               make([][]string, 0),
	}

	if err := g.initialize(regs); err != nil {
		return nil, err
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	if err := g.checkPriorities(); err != nil {
		return nil, err
	}

	g.computeLevels()

	return g, nil
}

// initialize indexes the registrations and builds adjacency lists.
func (g *DependencyGraph) initialize(regs []Registration) error {
	for _, reg := range regs {
		t := reg.Handler.Type()
		if t == "" {
			return NewPermanentError("handler has empty type", nil).
				WithCode(ErrCodeValidation)
		}
		if _, exists := g.priorities[t]; exists {
			return NewPermanentError(fmt.Sprintf("duplicate handler type: %s", t), nil).
				WithCode(ErrCodeValidation).WithResource(t)
		}

		g.priorities[t] = reg.Priority
		g.order = append(g.order, t)
		g.adjacencyList[t] = make([]string, 0)
		g.reverseAdjacencyList[t] = make([]string, 0)
	}

	for _, reg := range regs {
		t := reg.Handler.Type()
		for _, dep := range reg.After {
			if _, exists := g.priorities[dep]; !exists {
				return NewPermanentError(
					fmt.Sprintf("handler %s runs after unregistered type %s", t, dep),
					nil,
				).WithCode(ErrCodeDependency).WithResource(t)
			}

			g.adjacencyList[dep] = append(g.adjacencyList[dep], t)
			g.reverseAdjacencyList[t] = append(g.reverseAdjacencyList[t], dep)
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular ordering constraints.
func (g *DependencyGraph) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, t := range g.order {
		if visited[t] {
			continue
		}
		if cycle := g.detectCyclesUtil(t, visited, recStack, nil); cycle != nil {
			return NewPermanentError(
				fmt.Sprintf("circular handler dependency detected: %s", formatCycle(cycle)),
				nil,
			).WithCode(ErrCodeDependency)
		}
	}

	return nil
}

// detectCyclesUtil returns the cycle path reachable from nodeID, or nil.
func (g *DependencyGraph) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range g.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := g.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append(append([]string{}, path[i:]...), dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// checkPriorities verifies that every edge is representable by the priorities.
func (g *DependencyGraph) checkPriorities() error {
	for _, t := range g.order {
		for _, dep := range g.reverseAdjacencyList[t] {
			if g.priorities[dep] >= g.priorities[t] {
				return NewPermanentError(
					fmt.Sprintf("handler %s (priority %d) must run after %s (priority %d)",
						t, g.priorities[t], dep, g.priorities[dep]),
					nil,
				).WithCode(ErrCodePriority).WithResource(t)
			}
		}
	}
	return nil
}

// computeLevels assigns a level to each type using Kahn's algorithm.
func (g *DependencyGraph) computeLevels() {
	inDegree := make(map[string]int, len(g.order))
	for _, t := range g.order {
		inDegree[t] = len(g.reverseAdjacencyList[t])
	}

	current := make([]string, 0)
	for _, t := range g.order {
		if inDegree[t] == 0 {
			current = append(current, t)
		}
	}

	for len(current) > 0 {
		g.levels = append(g.levels, current)

		next := make([]string, 0)
		for _, t := range current {
			for _, dependent := range g.adjacencyList[t] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.SliceStable(next, func(i, j int) bool {
			return g.priorities[next[i]] < g.priorities[next[j]]
		})
		current = next
	}
}

// Levels returns the computed levels. Types in the same level have no ordering
// constraint between them.
func (g *DependencyGraph) Levels() [][]string {
	return g.levels
}

// DependenciesOf returns the types t runs after.
func (g *DependencyGraph) DependenciesOf(t string) []string {
	return g.reverseAdjacencyList[t]
}

// ToDOT generates a DOT format representation of the graph for visualization.
func (g *DependencyGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Handlers {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, t := range g.order {
		sb.WriteString(fmt.Sprintf("  \"%s\" [label=\"%s\\n%d\"];\n", t, t, g.priorities[t]))
	}
	sb.WriteString("\n")

	for _, t := range g.order {
		for _, dependent := range g.adjacencyList[t] {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", t, dependent))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
