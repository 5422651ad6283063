package validation

import (
	"fmt"
	"slices"

	"github.com/rendis/pagepilot/pkg/schema"
)

// validateDAG performs graph analysis over the edges: cycle detection
// (Kahn's algorithm) and reachability from the entry points. Edges that
// reference unknown nodes and self-edges are skipped; the semantic stage
// reports them.
func validateDAG(def *schema.FlowDefinition, entries []string) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		ids[n.ID] = true
	}

	// downstream[id] = nodes fed by id, deduplicated.
	downstream := make(map[string][]string, len(def.Nodes))
	inDegree := make(map[string]int, len(def.Nodes))
	for _, e := range def.Edges {
		if !ids[e.Source] || !ids[e.Target] || e.Source == e.Target {
			continue
		}
		if slices.Contains(downstream[e.Source], e.Target) {
			continue
		}
		downstream[e.Source] = append(downstream[e.Source], e.Target)
		inDegree[e.Target]++
	}

	queue := make([]string, 0, len(def.Nodes))
	for _, n := range def.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range downstream[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(ids) {
		var stuck []string
		for _, n := range def.Nodes {
			if inDegree[n.ID] > 0 {
				stuck = append(stuck, n.ID)
			}
		}
		result.AddError("edges", schema.ErrCodeCycleDetected,
			fmt.Sprintf("flow contains a cycle through nodes %v", stuck))
		return result
	}

	// Reachability: BFS from the entry points.
	reachable := make(map[string]bool, len(ids))
	bfs := append([]string(nil), entries...)
	for _, id := range entries {
		reachable[id] = true
	}
	for len(bfs) > 0 {
		id := bfs[0]
		bfs = bfs[1:]
		for _, next := range downstream[id] {
			if !reachable[next] {
				reachable[next] = true
				bfs = append(bfs, next)
			}
		}
	}

	if len(entries) > 0 {
		for _, n := range def.Nodes {
			if !reachable[n.ID] {
				result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID), schema.ErrCodeValidation,
					fmt.Sprintf("node %q is not reachable from the entry point", n.ID))
			}
		}
	}
	return result
}
