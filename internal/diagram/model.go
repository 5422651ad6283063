package diagram

import "github.com/rendis/pagepilot/pkg/schema"

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node // phase order
	Edges  []Edge
	Levels [][]string // node IDs by distance from the entry point
}

// Node is one task of the flow.
type Node struct {
	ID       string
	Label    string
	Kind     schema.TaskKind
	Sequence int // phase the node runs as
	Entry    bool
	Status   *StatusOverlay
}

// StatusOverlay carries the runtime state of the node's phase.
type StatusOverlay struct {
	Status  string // from schema.PhaseStatus
	Credits int
}

// Edge wires an output of From to an input of To.
type Edge struct {
	From  string
	To    string
	Label string
}

func (m *Model) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
