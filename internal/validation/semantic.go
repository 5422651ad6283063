package validation

import (
	"fmt"

	"github.com/rendis/pagepilot/internal/tasks"
	"github.com/rendis/pagepilot/pkg/schema"
)

// validateSemantic checks the graph against the task catalog: known task
// kinds, unique ids, a single entry point, type-compatible edges and
// satisfiable required inputs. It returns the entry point ids it found.
func validateSemantic(def *schema.FlowDefinition, lookup TaskLookup) (*schema.ValidationResult, []string) {
	result := &schema.ValidationResult{}

	defs := make(map[string]*tasks.Definition, len(def.Nodes))
	var entries []string
	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if _, dup := defs[n.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		td, err := lookup.Lookup(n.Type)
		if err != nil {
			result.AddError(path+".type", schema.ErrCodeValidation, fmt.Sprintf("unknown task type %q", n.Type))
			defs[n.ID] = nil
			continue
		}
		defs[n.ID] = td
		if td.IsEntryPoint {
			entries = append(entries, n.ID)
		}
	}

	switch len(entries) {
	case 0:
		result.AddError("nodes", schema.ErrCodeValidation, "flow has no entry point")
	case 1:
	default:
		result.AddError("nodes", schema.ErrCodeValidation, fmt.Sprintf("flow has %d entry points %v, expected one", len(entries), entries))
	}

	fed := make(map[string]map[string]bool, len(def.Nodes))
	for i, e := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		validateEdge(e, path, defs, fed, result)
	}

	for _, n := range def.Nodes {
		td := defs[n.ID]
		if td == nil {
			continue
		}
		if td.IsEntryPoint && len(fed[n.ID]) > 0 {
			result.AddError(fmt.Sprintf("nodes[%s]", n.ID), schema.ErrCodeValidation,
				fmt.Sprintf("entry point %q cannot have incoming edges", n.ID))
		}
		var missing []string
		for _, name := range td.RequiredInputs() {
			if n.Inputs[name] != "" || fed[n.ID][name] {
				continue
			}
			missing = append(missing, name)
		}
		if len(missing) > 0 {
			result.AddInvalidInputs(n.ID, missing)
		}
		for name := range n.Inputs {
			if _, ok := td.Input(name); !ok {
				result.AddWarning(fmt.Sprintf("nodes[%s].inputs.%s", n.ID, name), schema.ErrCodeValidation,
					fmt.Sprintf("task %s has no input %q", td.Kind, name))
			}
		}
	}
	return result, entries
}

func validateEdge(e schema.FlowEdge, path string, defs map[string]*tasks.Definition, fed map[string]map[string]bool, result *schema.ValidationResult) {
	src, srcOK := defs[e.Source]
	dst, dstOK := defs[e.Target]
	if !srcOK {
		result.AddError(path+".source", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", e.Source))
	}
	if !dstOK {
		result.AddError(path+".target", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", e.Target))
	}
	if e.Source == e.Target && srcOK {
		result.AddError(path, schema.ErrCodeCycleDetected, fmt.Sprintf("node %q is wired to itself", e.Source))
		return
	}
	if src == nil || dst == nil {
		return
	}

	out, ok := src.Output(e.SourceHandle)
	if !ok {
		result.AddError(path+".source_handle", schema.ErrCodeValidation,
			fmt.Sprintf("task %s has no output %q", src.Kind, e.SourceHandle))
		return
	}
	in, ok := dst.Input(e.TargetHandle)
	if !ok {
		result.AddError(path+".target_handle", schema.ErrCodeValidation,
			fmt.Sprintf("task %s has no input %q", dst.Kind, e.TargetHandle))
		return
	}
	if out.Type != in.Type {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("cannot wire %s output %q (%s) to %s input %q (%s)",
				e.Source, out.Name, out.Type, e.Target, in.Name, in.Type))
	}

	if fed[e.Target] == nil {
		fed[e.Target] = make(map[string]bool)
	}
	if fed[e.Target][e.TargetHandle] {
		result.AddError(path+".target_handle", schema.ErrCodeValidation,
			fmt.Sprintf("input %q of node %q is wired more than once", e.TargetHandle, e.Target))
	}
	fed[e.Target][e.TargetHandle] = true
}
