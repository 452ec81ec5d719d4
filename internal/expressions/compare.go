package expressions

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// Comparator evaluates condition operators with compiled expr programs.
// Thread-safe: programs are compiled once per source and shared.
type Comparator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewComparator creates a Comparator.
func NewComparator() *Comparator {
	return &Comparator{cache: make(map[string]*vm.Program)}
}

const (
	srcEquals      = `actual == expected`
	srcGreaterThan = `actual > expected`
	srcSubstring   = `actual contains expected`
	srcMember      = `expected in actual`
)

// compareEnv types both operands as any so the checker defers operator
// typing to run time.
type compareEnv struct {
	Actual   any `expr:"actual"`
	Expected any `expr:"expected"`
}

// Compare applies op to the context value. present reports whether the
// variable exists in the context at all; a missing variable is false for
// every operator, and exists is exactly that presence test, so a key
// holding null exists.
func (c *Comparator) Compare(op schema.ConditionOperator, actual any, present bool, expected any) (bool, error) {
	if !op.Valid() {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition operator %q", op)
	}
	if op == schema.OpExists {
		return present, nil
	}
	if !present {
		return false, nil
	}

	actual, expected = numeric(actual), numeric(expected)

	switch op {
	case schema.OpEquals:
		return c.run(srcEquals, actual, expected)

	case schema.OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if aok && bok {
			return c.run(srcGreaterThan, a, b)
		}
		as, aok := actual.(string)
		bs, bok := expected.(string)
		if aok && bok {
			return c.run(srcGreaterThan, as, bs)
		}
		return false, nil

	case schema.OpContains:
		switch a := actual.(type) {
		case string:
			s, ok := expected.(string)
			if !ok {
				s = Stringify(expected)
			}
			return c.run(srcSubstring, a, s)
		case map[string]any:
			key, ok := expected.(string)
			if !ok {
				return false, nil
			}
			return c.run(srcMember, a, key)
		}
		if list, ok := asSlice(actual); ok {
			return c.run(srcMember, list, expected)
		}
		return false, nil
	}
	return false, nil
}

func (c *Comparator) run(source string, actual, expected any) (bool, error) {
	prg, err := c.program(source)
	if err != nil {
		return false, err
	}
	out, err := vm.Run(prg, compareEnv{Actual: actual, Expected: expected})
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q failed: %s", source, err.Error()).WithCause(err)
	}
	b, _ := out.(bool)
	return b, nil
}

func (c *Comparator) program(source string) (*vm.Program, error) {
	c.mu.RLock()
	if prg, ok := c.cache[source]; ok {
		c.mu.RUnlock()
		return prg, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.cache[source]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(source,
		expr.Env(compareEnv{}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile condition %q: %s", source, err.Error()).WithCause(err)
	}
	c.cache[source] = prg
	return prg, nil
}

// numeric widens every Go number (and json.Number) to float64 so that
// 1 and 1.0 compare equal.
func numeric(v any) any {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32:
		return reflect.ValueOf(n).Convert(reflect.TypeOf(float64(0))).Float()
	}
	return v
}

// toFloat accepts numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func asSlice(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = numeric(rv.Index(i).Interface())
	}
	return out, true
}
