// Package expressions evaluates the small expression languages used inside
// step configs: {{name}} templates, condition operators, CEL step guards and
// jq paths into the variable context.
package expressions

import (
	"context"
	"encoding/json"
	"fmt"
)

// Engine evaluates an expression against a data map.
// Two implementations: CEL (step guards) and GoJQ (context paths).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Normalize converts v into the plain JSON shape (map[string]any, []any,
// float64, string, bool, nil) that CEL and jq operate on.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	return out, nil
}

// NormalizeMap applies Normalize to every value of m.
func NormalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}
