package diagram

import (
	"fmt"

	"github.com/rendis/pagepilot/internal/engine"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

// Build constructs a Model from a flow definition and, optionally, the phases
// of one of its executions. Node order and sequence numbers follow the phase
// order the orchestrator uses.
func Build(title string, def *schema.FlowDefinition, phases []*store.Phase) (*Model, error) {
	dag, err := engine.ParseDAG(def)
	if err != nil {
		return nil, fmt.Errorf("diagram: parse flow: %w", err)
	}

	byNode := make(map[string]*store.Phase, len(phases))
	for _, p := range phases {
		byNode[p.NodeID] = p
	}

	model := &Model{Title: title}
	for i, id := range dag.Sorted {
		fn := dag.Nodes[id]
		node := &Node{
			ID:       id,
			Label:    nodeLabel(fn),
			Kind:     fn.Type,
			Sequence: i + 1,
			Entry:    fn.Type == schema.TaskLaunchBrowser,
		}
		if p, ok := byNode[id]; ok {
			node.Status = &StatusOverlay{Status: string(p.Status), Credits: p.CreditsConsumed}
		}
		model.Nodes = append(model.Nodes, node)
	}

	for _, e := range def.Edges {
		model.Edges = append(model.Edges, Edge{
			From:  e.Source,
			To:    e.Target,
			Label: edgeLabel(e),
		})
	}

	model.Levels = buildLevels(dag)
	return model, nil
}

func nodeLabel(n *schema.FlowNode) string {
	if n.Label != "" {
		return fmt.Sprintf("%s\n(%s)", n.Label, n.Type)
	}
	return string(n.Type)
}

func edgeLabel(e schema.FlowEdge) string {
	switch {
	case e.SourceHandle == "" && e.TargetHandle == "":
		return ""
	case e.SourceHandle == e.TargetHandle:
		return e.SourceHandle
	default:
		return e.SourceHandle + " > " + e.TargetHandle
	}
}

// buildLevels groups nodes by their longest distance from a root. Within a
// level nodes keep phase order.
func buildLevels(dag *engine.DAG) [][]string {
	depth := make(map[string]int, len(dag.Sorted))
	maxDepth := 0
	for _, id := range dag.Sorted {
		d := 0
		for _, up := range dag.Edges[id] {
			if depth[up]+1 > d {
				d = depth[up] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, id := range dag.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}
