// Package tasks is the static catalog of task kinds: each entry declares its
// typed inputs and outputs, its credit cost and the executor that runs it.
package tasks

import (
	"context"

	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/pkg/schema"
)

// Executor performs one task against the phase-scoped environment. A returned
// error fails the phase; executors never retain the scope after returning.
type Executor interface {
	Execute(ctx context.Context, scope *environment.Scope) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, scope *environment.Scope) error

// Execute calls f(ctx, scope).
func (f ExecutorFunc) Execute(ctx context.Context, scope *environment.Scope) error {
	return f(ctx, scope)
}

// ParamSpec describes one input or output parameter.
type ParamSpec struct {
	Name       string           `json:"name"`
	Type       schema.ParamType `json:"type"`
	Required   bool             `json:"required,omitempty"`
	HelperText string           `json:"helper_text,omitempty"`
	Options    []string         `json:"options,omitempty"`
}

// Definition is an immutable registry entry.
type Definition struct {
	Kind         schema.TaskKind `json:"kind"`
	Label        string          `json:"label"`
	Inputs       []ParamSpec     `json:"inputs"`
	Outputs      []ParamSpec     `json:"outputs"`
	Credits      int             `json:"credits"`
	IsEntryPoint bool            `json:"is_entry_point,omitempty"`
	Executor     Executor        `json:"-"`
}

// Input returns the named input spec.
func (d *Definition) Input(name string) (ParamSpec, bool) {
	for _, p := range d.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Output returns the named output spec.
func (d *Definition) Output(name string) (ParamSpec, bool) {
	for _, p := range d.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// RequiredInputs returns the names of required inputs in declaration order.
func (d *Definition) RequiredInputs() []string {
	var names []string
	for _, p := range d.Inputs {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}
