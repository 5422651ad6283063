package schema

// FlowDefinition is the serialized workflow graph produced by the editor.
// Only the fields the engine consumes are modeled; unknown editor fields are ignored.
type FlowDefinition struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges,omitempty"`
}

// FlowNode is one task instance in the graph. Inputs holds constant values
// configured in the editor, keyed by input parameter name.
type FlowNode struct {
	ID     string            `json:"id"`
	Type   TaskKind          `json:"type"`
	Label  string            `json:"label,omitempty"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// FlowEdge wires an upstream output to a downstream input. Edges are also the
// control-flow dependencies used for ordering.
type FlowEdge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	SourceHandle string `json:"source_handle"`
	Target       string `json:"target"`
	TargetHandle string `json:"target_handle"`
}

// TaskKind identifies an entry of the task registry.
type TaskKind string

const (
	TaskLaunchBrowser          TaskKind = "LAUNCH_BROWSER"
	TaskNavigateURL            TaskKind = "NAVIGATE_URL"
	TaskPageToHTML             TaskKind = "PAGE_TO_HTML"
	TaskExtractTextFromElement TaskKind = "EXTRACT_TEXT_FROM_ELEMENT"
	TaskFillInput              TaskKind = "FILL_INPUT"
	TaskClickElement           TaskKind = "CLICK_ELEMENT"
	TaskWaitForElement         TaskKind = "WAIT_FOR_ELEMENT"
	TaskScrollToElement        TaskKind = "SCROLL_TO_ELEMENT"
	TaskDeliverViaWebhook      TaskKind = "DELIVER_VIA_WEBHOOK"
	TaskReadPropertyFromJSON   TaskKind = "READ_PROPERTY_FROM_JSON"
	TaskAddPropertyToJSON      TaskKind = "ADD_PROPERTY_TO_JSON"
)

// ParamType is the semantic type of a task input or output.
type ParamType string

const (
	ParamString          ParamType = "STRING"
	ParamBrowserInstance ParamType = "BROWSER_INSTANCE"
	ParamSelect          ParamType = "SELECT"
	ParamCredential      ParamType = "CREDENTIAL"
)

// NodeByID returns the node with the given id, or nil.
func (d *FlowDefinition) NodeByID(id string) *FlowNode {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// IncomingEdge returns the edge feeding the named input of a node, or nil.
func (d *FlowDefinition) IncomingEdge(nodeID, input string) *FlowEdge {
	for i := range d.Edges {
		e := &d.Edges[i]
		if e.Target == nodeID && e.TargetHandle == input {
			return e
		}
	}
	return nil
}
