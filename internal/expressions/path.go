package expressions

import (
	"context"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// PathResolver reads values out of the variable context with jq paths such
// as ".research.content". Thread-safe: compiled code is cached.
type PathResolver struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewPathResolver creates a PathResolver.
func NewPathResolver() *PathResolver {
	return &PathResolver{cache: make(map[string]*gojq.Code)}
}

// IsPath reports whether key should be resolved as a jq path rather than a
// plain context key.
func IsPath(key string) bool {
	return strings.HasPrefix(key, ".")
}

// Name returns the engine identifier.
func (p *PathResolver) Name() string {
	return "jq"
}

// Evaluate runs expression against data. A single output is returned as is,
// several are collected into []any, none yields nil.
func (p *PathResolver) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq path")
	}
	code, err := p.compile(expression)
	if err != nil {
		return nil, err
	}

	input, err := NormalizeMap(data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq path %q: %s", expression, err.Error()).WithCause(err)
	}

	iter := code.RunWithContext(ctx, input)
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq path %q failed: %s", expression, err.Error()).WithCause(err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Lookup resolves path against data; a null result counts as absent.
func (p *PathResolver) Lookup(ctx context.Context, path string, data map[string]any) (any, bool, error) {
	v, err := p.Evaluate(ctx, path, data)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

// Compile checks that path parses.
func (p *PathResolver) Compile(path string) error {
	_, err := p.compile(path)
	return err
}

func (p *PathResolver) compile(expression string) (*gojq.Code, error) {
	p.mu.RLock()
	if code, ok := p.cache[expression]; ok {
		p.mu.RUnlock()
		return code, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if code, ok := p.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).WithCause(err)
	}
	p.cache[expression] = code
	return code, nil
}

var _ Engine = (*PathResolver)(nil)
