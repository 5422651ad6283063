package validation

import "github.com/rendis/pagepilot/pkg/schema"

// FlowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (task kinds, entry point, edge types, required inputs)
// 3. DAG (cycles, reachability)
type FlowValidator struct {
	jsonSchema *JSONSchemaValidator
	tasks      TaskLookup
}

// NewFlowValidator creates a FlowValidator.
func NewFlowValidator(lookup TaskLookup) (*FlowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &FlowValidator{jsonSchema: jsv, tasks: lookup}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the other stages.
func (fv *FlowValidator) Validate(def *schema.FlowDefinition) *schema.ValidationResult {
	result := validateStructural(fv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	semantic, entries := validateSemantic(def, fv.tasks)
	result.Merge(semantic)
	result.Merge(validateDAG(def, entries))
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (fv *FlowValidator) ValidateDefinition(def *schema.FlowDefinition) error {
	return fv.Validate(def).ToError()
}

// ValidateJSON checks the shape of a raw flow document.
func (fv *FlowValidator) ValidateJSON(data []byte) error {
	return fv.jsonSchema.ValidateJSON(data)
}

func validateStructural(v *JSONSchemaValidator, def *schema.FlowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	engErr, ok := err.(*schema.EngineError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := engErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, engErr.Message)
	return result
}
