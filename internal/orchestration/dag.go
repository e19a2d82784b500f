package orchestration

import (
	"fmt"
	"sort"

	"github.com/toka-systems/toka/internal/types"
)

// graph is the dependency graph over a session's agent specs: an edge from
// agent A to agent B means A depends on B completing first. Edges are
// derived from the union of every task's DependsOn set across an agent's
// spec, since dependencies are declared per-task but resolved at the
// agent-spawn granularity.
type graph struct {
	nodes map[string]types.AgentSpec
	edges map[string][]string
}

func buildGraph(specs []types.AgentSpec) (*graph, error) {
	g := &graph{
		nodes: make(map[string]types.AgentSpec, len(specs)),
		edges: make(map[string][]string, len(specs)),
	}
	for _, spec := range specs {
		if _, exists := g.nodes[spec.Name]; exists {
			return nil, fmt.Errorf("%w: %s", types.ErrDuplicateAgent, spec.Name)
		}
		g.nodes[spec.Name] = spec
	}
	for _, spec := range specs {
		depSet := make(map[string]struct{})
		for _, task := range spec.Tasks {
			for dep := range task.DependsOn {
				depSet[dep] = struct{}{}
			}
		}
		deps := make([]string, 0, len(depSet))
		for dep := range depSet {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		g.edges[spec.Name] = deps
	}
	return g, nil
}

type color int

const (
	white color = iota
	gray
	black
)

// detectCycle walks the graph with the standard three-color scheme and
// returns a types.CycleError describing the first cycle found, or an
// ErrPreconditionFailed if an edge names an agent absent from the session.
// Node visitation order is sorted by name so the reported path is
// deterministic across runs of the same spec set.
func (g *graph) detectCycle() error {
	colors := make(map[string]color, len(g.nodes))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		colors[name] = gray
		path = append(path, name)

		for _, dep := range g.edges[name] {
			if _, known := g.nodes[dep]; !known {
				return fmt.Errorf("%w: agent %q depends on unknown agent %q", types.ErrPreconditionFailed, name, dep)
			}
			switch colors[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				cycle := append(append([]string{}, path...), dep)
				return &types.CycleError{Path: cycle}
			case black:
				// already fully explored via another path; no cycle here
			}
		}

		colors[name] = black
		path = path[:len(path)-1]
		return nil
	}

	names := g.sortedNames()
	for _, name := range names {
		if colors[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *graph) sortedNames() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// layers topologically sorts the graph into phases: every agent in layer N
// has all of its dependencies satisfied by agents in layers 0..N-1. Within
// a layer, agents are ordered by descending Priority so a phase's spawn
// queue drains critical agents first; ties break on name for determinism.
// Callers must run detectCycle first — layers assumes an acyclic graph and
// will silently stop making progress (returning fewer agents than exist)
// if that assumption is violated.
func (g *graph) layers() [][]string {
	placed := make(map[string]bool, len(g.nodes))
	names := g.sortedNames()
	var result [][]string

	for len(placed) < len(g.nodes) {
		var layer []string
		for _, name := range names {
			if placed[name] {
				continue
			}
			ready := true
			for _, dep := range g.edges[name] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			// acyclic precondition violated upstream; stop rather than loop forever
			break
		}
		sort.Slice(layer, func(i, j int) bool {
			pi, pj := g.nodes[layer[i]].Priority.Rank(), g.nodes[layer[j]].Priority.Rank()
			if pi != pj {
				return pi > pj
			}
			return layer[i] < layer[j]
		})
		for _, name := range layer {
			placed[name] = true
		}
		result = append(result, layer)
	}
	return result
}
