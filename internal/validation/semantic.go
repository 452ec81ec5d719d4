package validation

import (
	"errors"
	"fmt"

	"github.com/alexsaulik/promptfolio/internal/engine"
	"github.com/alexsaulik/promptfolio/internal/handlers"
	"github.com/alexsaulik/promptfolio/internal/triggers"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// validateSemantic checks what the schema cannot express: duplicate IDs,
// handler availability, per-kind config rules and trigger schedules. Every
// problem is reported, not just the first.
func validateSemantic(def *schema.WorkflowDefinition, lookup KindLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]int, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if first, dup := seen[step.ID]; dup {
			result.AddErrorf(path+".id", schema.ErrCodeValidation,
				"duplicate step id %q (first at steps[%d])", step.ID, first)
			continue
		}
		seen[step.ID] = i

		if lookup != nil && !lookup.Has(step.Kind) {
			result.AddErrorf(path+".kind", schema.ErrCodeHandlerUnavailable,
				"no handler registered for kind %q", step.Kind)
		}
		if err := handlers.ValidateConfig(step); err != nil {
			result.AddError(path+".config", codeOr(err, schema.ErrCodeValidation), messageOf(err))
		}
	}

	for i, t := range def.Triggers {
		if err := triggers.Validate(t); err != nil {
			result.AddError(fmt.Sprintf("triggers[%d]", i), schema.ErrCodeValidation, messageOf(err))
		}
	}
	return result
}

// validateGraph resolves the successor graph with the engine's own rules so
// that a definition accepted here also loads at run time.
func validateGraph(def *schema.WorkflowDefinition, opts engine.GraphOptions) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	g, err := engine.ParseGraph(def, opts)
	if err != nil {
		var fe *schema.FlowError
		id := ""
		if errors.As(err, &fe) {
			id = fe.StepID
		}
		result.AddError(stepPath(def, id), codeOr(err, schema.ErrCodeValidation), messageOf(err))
		return result
	}

	for _, id := range g.Unreachable {
		result.AddWarning(stepPath(def, id), schema.ErrCodeValidation,
			fmt.Sprintf("step %q is unreachable from any entry step", id))
	}
	return result
}

func stepPath(def *schema.WorkflowDefinition, id string) string {
	if id == "" {
		return "steps"
	}
	for i := range def.Steps {
		if def.Steps[i].ID == id {
			return fmt.Sprintf("steps[%d]", i)
		}
	}
	return "steps"
}

func codeOr(err error, fallback string) string {
	if code := schema.CodeOf(err); code != "" {
		return code
	}
	return fallback
}

// messageOf drops the "[CODE] step x:" prefix; the issue carries both.
func messageOf(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
