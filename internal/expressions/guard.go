package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// GuardEngine evaluates step guard expressions with CEL.
// The environment exposes one variable:
//   - vars: map(string, dyn), the run's variable context keyed by step ID or seed name
//
// Thread-safe: compiled programs are cached and reused across goroutines.
type GuardEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewGuardEngine creates a CEL guard engine.
func NewGuardEngine() (*GuardEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &GuardEngine{env: env, cache: make(map[string]cel.Program)}, nil
}

// Name returns the engine identifier.
func (g *GuardEngine) Name() string {
	return "cel"
}

// Compile checks that expression parses and type-checks.
func (g *GuardEngine) Compile(expression string) error {
	_, err := g.program(expression)
	return err
}

// Evaluate runs expression with data bound to vars.
func (g *GuardEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty guard expression")
	}
	prg, err := g.program(expression)
	if err != nil {
		return nil, err
	}

	normalized, err := NormalizeMap(data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "guard %q: %s", expression, err.Error()).WithCause(err)
	}

	out, _, err := prg.ContextEval(ctx, map[string]any{"vars": normalized})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"guard %q failed: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

// Allow evaluates a guard that must produce a bool. An empty guard allows.
func (g *GuardEngine) Allow(ctx context.Context, expression string, data map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}
	out, err := g.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"guard %q returned %T, want bool", expression, out)
	}
	return b, nil
}

func (g *GuardEngine) program(expression string) (cel.Program, error) {
	g.mu.RLock()
	if prg, ok := g.cache[expression]; ok {
		g.mu.RUnlock()
		return prg, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if prg, ok := g.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := g.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"guard compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}
	prg, err := g.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"guard program error for %q: %s", expression, err.Error()).
			WithCause(err)
	}
	g.cache[expression] = prg
	return prg, nil
}

var _ Engine = (*GuardEngine)(nil)
