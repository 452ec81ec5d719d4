package validation

import "github.com/alexsaulik/promptfolio/pkg/schema"

// Validator checks workflow definitions before they are stored or run.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateDocument(raw []byte) error
}

// KindLookup reports whether a handler is registered for a step kind.
// *handlers.Registry satisfies it.
type KindLookup interface {
	Has(kind schema.StepKind) bool
}
