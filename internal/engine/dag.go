package engine

import (
	"fmt"

	"github.com/rendis/pagepilot/pkg/schema"
)

// DAG is the in-memory graph of a flow definition. Sorted is the phase order:
// Sorted[i] runs as phase i+1.
type DAG struct {
	Nodes   map[string]*schema.FlowNode // node ID → node
	Edges   map[string][]string         // node ID → upstream node IDs
	Reverse map[string][]string         // node ID → downstream node IDs
	Sorted  []string                    // topological order
	Roots   []string                    // nodes with no upstream

	index map[string]int // authored position
}

// ParseDAG builds the execution graph of def and orders it with Kahn's
// algorithm. Among nodes that become ready at the same time, the one authored
// first runs first. Edges are the only ordering constraints; several edges
// between the same pair of nodes count once.
func ParseDAG(def *schema.FlowDefinition) (*DAG, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "flow definition is nil")
	}
	if len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no nodes")
	}

	dag := &DAG{
		Nodes:   make(map[string]*schema.FlowNode, len(def.Nodes)),
		Edges:   make(map[string][]string, len(def.Nodes)),
		Reverse: make(map[string][]string, len(def.Nodes)),
		index:   make(map[string]int, len(def.Nodes)),
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("node at index %d has empty ID", i))
		}
		if _, exists := dag.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}
		if node.Type == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s has no task type", node.ID)
		}
		dag.Nodes[node.ID] = node
		dag.index[node.ID] = i
	}

	seen := make(map[[2]string]bool, len(def.Edges))
	for _, e := range def.Edges {
		if _, ok := dag.Nodes[e.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references non-existent source node: %s", e.ID, e.Source)
		}
		if _, ok := dag.Nodes[e.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references non-existent target node: %s", e.ID, e.Target)
		}
		if e.Source == e.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s is wired to itself", e.Source)
		}
		key := [2]string{e.Source, e.Target}
		if seen[key] {
			continue
		}
		seen[key] = true
		dag.Edges[e.Target] = append(dag.Edges[e.Target], e.Source)
		dag.Reverse[e.Source] = append(dag.Reverse[e.Source], e.Target)
	}

	inDegree := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		inDegree[id] = len(dag.Edges[id])
	}

	// ready is kept sorted by authored position.
	ready := make([]string, 0)
	for _, n := range def.Nodes {
		if inDegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	dag.Roots = make([]string, len(ready))
	copy(dag.Roots, ready)

	sorted := make([]string, 0, len(dag.Nodes))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node)

		for _, down := range dag.Reverse[node] {
			inDegree[down]--
			if inDegree[down] == 0 {
				ready = dag.insertByIndex(ready, down)
			}
		}
	}

	if len(sorted) != len(dag.Nodes) {
		var stuck []string
		for _, n := range def.Nodes {
			if inDegree[n.ID] > 0 {
				stuck = append(stuck, n.ID)
			}
		}
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle").
			WithDetails(map[string]any{"nodes": stuck})
	}

	dag.Sorted = sorted
	return dag, nil
}

// insertByIndex inserts id into ready keeping authored order.
func (d *DAG) insertByIndex(ready []string, id string) []string {
	pos := len(ready)
	for i, r := range ready {
		if d.index[r] > d.index[id] {
			pos = i
			break
		}
	}
	ready = append(ready, "")
	copy(ready[pos+1:], ready[pos:])
	ready[pos] = id
	return ready
}

// Sequence returns the phase sequence number of a node, or 0 if absent.
func (d *DAG) Sequence(nodeID string) int {
	for i, id := range d.Sorted {
		if id == nodeID {
			return i + 1
		}
	}
	return 0
}
