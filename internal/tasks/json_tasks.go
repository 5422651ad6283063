package tasks

import (
	"context"

	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/internal/expressions"
	"github.com/rendis/pagepilot/pkg/schema"
)

func readPropertyTask(jq *expressions.GoJQEngine) Definition {
	return Definition{
		Kind:    schema.TaskReadPropertyFromJSON,
		Label:   "Read property from JSON",
		Credits: 1,
		Inputs: []ParamSpec{
			stringParam(ParamJSON, true, ""),
			stringParam(ParamPropertyName, true, "Dotted path, eg: items[0].title"),
		},
		Outputs: []ParamSpec{
			{Name: ParamPropertyValue, Type: schema.ParamString},
		},
		Executor: ExecutorFunc(func(ctx context.Context, scope *environment.Scope) error {
			doc := requiredInput(scope, ParamJSON)
			name := requiredInput(scope, ParamPropertyName)
			v, err := jq.GetProperty(ctx, doc, name)
			if err != nil {
				return err
			}
			scope.SetOutput(ParamPropertyValue, v)
			return nil
		}),
	}
}

func addPropertyTask(jq *expressions.GoJQEngine) Definition {
	return Definition{
		Kind:    schema.TaskAddPropertyToJSON,
		Label:   "Add property to JSON",
		Credits: 1,
		Inputs: []ParamSpec{
			stringParam(ParamJSON, true, ""),
			stringParam(ParamPropertyName, true, "Dotted path, eg: meta.source"),
			stringParam(ParamPropertyValue, true, ""),
		},
		Outputs: []ParamSpec{
			{Name: ParamUpdatedJSON, Type: schema.ParamString},
		},
		Executor: ExecutorFunc(func(ctx context.Context, scope *environment.Scope) error {
			doc := requiredInput(scope, ParamJSON)
			name := requiredInput(scope, ParamPropertyName)
			value := requiredInput(scope, ParamPropertyValue)
			out, err := jq.SetProperty(ctx, doc, name, value)
			if err != nil {
				return err
			}
			scope.SetOutput(ParamUpdatedJSON, out)
			return nil
		}),
	}
}
