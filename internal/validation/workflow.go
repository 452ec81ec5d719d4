package validation

import (
	"github.com/alexsaulik/promptfolio/internal/engine"
	"github.com/alexsaulik/promptfolio/internal/expressions"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// DefinitionValidator runs the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (duplicate IDs, handler kinds, step configs, triggers)
// 3. Graph (successors, entry points, cycles, guards)
type DefinitionValidator struct {
	schema *SchemaValidator
	lookup KindLookup
	graph  engine.GraphOptions
}

// Option configures a DefinitionValidator.
type Option func(*DefinitionValidator)

// WithHandlers checks that every step kind has a registered handler.
func WithHandlers(lookup KindLookup) Option {
	return func(v *DefinitionValidator) { v.lookup = lookup }
}

// WithCyclePolicy validates cycles the way an engine with policy p would.
func WithCyclePolicy(p engine.CyclePolicy) Option {
	return func(v *DefinitionValidator) { v.graph.Cycles = p }
}

// NewDefinitionValidator creates a DefinitionValidator.
func NewDefinitionValidator(opts ...Option) (*DefinitionValidator, error) {
	sv, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	guards, err := expressions.NewGuardEngine()
	if err != nil {
		return nil, err
	}
	v := &DefinitionValidator{
		schema: sv,
		graph:  engine.GraphOptions{Cycles: engine.CycleReject, Guards: guards},
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Validate runs the full pipeline and returns every issue found. Structural
// errors short-circuit; the graph stage only runs on a semantically valid
// definition.
func (v *DefinitionValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := structural(v.schema.ValidateDefinition(def))
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, v.lookup))
	if result.Valid() {
		result.Merge(validateGraph(def, v.graph))
	}
	return result
}

// ValidateDefinition satisfies Validator.
func (v *DefinitionValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return v.Validate(def).ToError()
}

// ValidateDocument checks the raw document structurally only.
func (v *DefinitionValidator) ValidateDocument(raw []byte) error {
	return v.schema.ValidateDocument(raw)
}

// structural converts a SchemaValidator error into a result with one issue
// per violation.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
