package validation

import (
	"github.com/rendis/pagepilot/internal/tasks"
	"github.com/rendis/pagepilot/pkg/schema"
)

// Validator checks flow definitions for correctness before they are published.
type Validator interface {
	ValidateDefinition(def *schema.FlowDefinition) error
}

// TaskLookup resolves task kinds. Satisfied by *tasks.Registry.
type TaskLookup interface {
	Lookup(kind schema.TaskKind) (*tasks.Definition, error)
}
