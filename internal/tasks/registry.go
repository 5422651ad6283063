package tasks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rendis/pagepilot/pkg/schema"
)

// Registry is a thread-safe catalog of task definitions, keyed by kind.
type Registry struct {
	mu    sync.RWMutex
	tasks map[schema.TaskKind]*Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[schema.TaskKind]*Definition),
	}
}

// Register adds a definition. Returns CONFLICT on a duplicate kind.
func (r *Registry) Register(def Definition) error {
	if def.Kind == "" {
		return schema.NewError(schema.ErrCodeValidation, "task kind is empty")
	}
	if def.Executor == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "task %q has no executor", def.Kind)
	}
	if def.Credits < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "task %q has negative credit cost", def.Kind)
	}
	if err := checkParams(def.Kind, "input", def.Inputs); err != nil {
		return err
	}
	if err := checkParams(def.Kind, "output", def.Outputs); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[def.Kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "task %q already registered", def.Kind)
	}

	d := def
	d.Inputs = append([]ParamSpec(nil), def.Inputs...)
	d.Outputs = append([]ParamSpec(nil), def.Outputs...)
	r.tasks[def.Kind] = &d
	return nil
}

// MustRegister is Register for startup wiring: a registration error is a
// configuration bug and panics.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(fmt.Sprintf("tasks: %v", err))
		}
	}
}

// Lookup retrieves a definition by kind.
func (r *Registry) Lookup(kind schema.TaskKind) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tasks[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "task %q not registered", kind)
	}
	return def, nil
}

// List returns all definitions, sorted by kind.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.tasks))
	for _, d := range r.tasks {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Kind < defs[j].Kind
	})
	return defs
}

// Has checks if a kind is registered.
func (r *Registry) Has(kind schema.TaskKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[kind]
	return ok
}

// Count returns the number of registered definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

func checkParams(kind schema.TaskKind, what string, params []ParamSpec) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "task %q has an unnamed %s", kind, what)
		}
		if seen[p.Name] {
			return schema.NewErrorf(schema.ErrCodeValidation, "task %q declares %s %q twice", kind, what, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
