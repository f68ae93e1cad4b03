package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/tether/internal/ir"
)

// Cycle levels. Only ordering cycles are errors: the clockwork cannot
// assign waves to them and fails every context that projects onto them.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// Edge kinds between resource definitions.
const (
	EdgeOrdering = "ordering" // dependsOn or a projection.<key>.$external_id mapping
	EdgeMapping  = "mapping"  // projection.<key>.<attr> mapping
	EdgeImplies  = "implies"
)

// CycleWarning represents a cycle between resource definitions.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a/account/default", "b/account/default", "a/account/default"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "error", "warning" or "info"
	Edge    string   `json:"edge"`
}

// AnalyzeCycles performs static cycle analysis on resource definitions.
//
// Three graphs are analyzed separately:
//   - ordering edges must be acyclic, so cycles are errors
//   - mapping cycles are warnings; the clockwork recomputes them until a
//     fixed point or its iteration bound
//   - implies cycles are info; implied assignments are added at most once
//
// Each graph is searched for strongly connected components with Tarjan's
// algorithm. Results are sorted by level then path.
func AnalyzeCycles(defs []ir.ResourceDefinition) []CycleWarning {
	if len(defs) == 0 {
		return []CycleWarning{}
	}

	var warnings []CycleWarning
	for _, edge := range []string{EdgeOrdering, EdgeMapping, EdgeImplies} {
		graph := buildDependencyGraph(defs, edge)
		for _, scc := range tarjanSCC(graph) {
			if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
				warnings = append(warnings, cycleSCCToWarning(scc, graph, edge))
			}
		}
	}

	sort.SliceStable(warnings, func(i, j int) bool {
		if li, lj := levelRank(warnings[i].Level), levelRank(warnings[j].Level); li != lj {
			return li < lj
		}
		return strings.Join(warnings[i].Path, " ") < strings.Join(warnings[j].Path, " ")
	})
	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

// HasErrors reports whether any warning is at error level.
func HasErrors(warnings []CycleWarning) bool {
	for _, w := range warnings {
		if w.Level == LevelError {
			return true
		}
	}
	return false
}

func levelRank(level string) int {
	switch level {
	case LevelError:
		return 0
	case LevelWarning:
		return 1
	default:
		return 2
	}
}

// dependencyGraph maps a discriminator key to the keys it depends on.
type dependencyGraph map[string][]string

// buildDependencyGraph constructs the graph for one edge kind. Every
// definition is a node. Ordering self-edges are ignored, matching wave
// assignment.
func buildDependencyGraph(defs []ir.ResourceDefinition, edge string) dependencyGraph {
	graph := make(dependencyGraph, len(defs))

	for _, def := range defs {
		key := def.Key()
		if graph[key] == nil {
			graph[key] = []string{}
		}

		var targets []string
		switch edge {
		case EdgeOrdering:
			targets = append(targets, def.DependsOn...)
			for _, m := range def.Mappings {
				if ref, attr, ok := m.ProjectionSource(); ok && attr == ir.ExternalIDRef {
					targets = append(targets, ref)
				}
			}
		case EdgeMapping:
			for _, m := range def.Mappings {
				if ref, attr, ok := m.ProjectionSource(); ok && attr != ir.ExternalIDRef {
					targets = append(targets, ref)
				}
			}
		case EdgeImplies:
			targets = def.Implies
		}

		seen := make(map[string]bool)
		for _, t := range targets {
			if seen[t] || (edge == EdgeOrdering && t == key) {
				continue
			}
			seen[t] = true
			graph[key] = append(graph[key], t)
		}
		sort.Strings(graph[key])
	}

	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are deterministic.
//
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack into an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, graph dependencyGraph, edge string) CycleWarning {
	level := LevelWarning
	switch edge {
	case EdgeOrdering:
		level = LevelError
	case EdgeImplies:
		level = LevelInfo
	}

	if len(scc) == 1 {
		key := scc[0]
		return CycleWarning{
			Path:    []string{key, key},
			Message: fmt.Sprintf("Self-referencing %s: %s → %s", edge, key, key),
			Level:   level,
			Edge:    edge,
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("%s cycle detected: %s", edge, strings.Join(path, " → ")),
		Level:   level,
		Edge:    edge,
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: start at the first node, follow edges to other SCC members and
// stop on returning to the start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}
