package handlers

import (
	"context"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// ConditionHandler compares a context variable against a value. It only
// records the result; whether successors are gated is an engine policy.
type ConditionHandler struct {
	opts Options
}

// NewConditionHandler creates the condition handler.
func NewConditionHandler(opts Options) *ConditionHandler {
	return &ConditionHandler{opts: opts.withDefaults()}
}

func (h *ConditionHandler) Kind() schema.StepKind { return schema.KindCondition }

func (h *ConditionHandler) Description() string {
	return "Evaluate equals, contains, greaterThan or exists against a context variable"
}

func (h *ConditionHandler) Execute(ctx context.Context, in StepInput) (any, error) {
	cfg, err := decodeConfig[schema.ConditionConfig](in.Step)
	if err != nil {
		return nil, err
	}

	actual, present, err := h.opts.resolveKey(ctx, cfg.Variable, in.Vars.Snapshot())
	if err != nil {
		return nil, err
	}
	result, err := h.opts.Comparator.Compare(cfg.Operator, actual, present, cfg.Value)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"operator":      string(cfg.Operator),
		"variable":      cfg.Variable,
		"comparedValue": cfg.Value,
		"result":        result,
	}, nil
}

// ConditionResult extracts the boolean outcome from a condition step result.
func ConditionResult(result any) (bool, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return false, false
	}
	b, ok := m["result"].(bool)
	return b, ok
}
