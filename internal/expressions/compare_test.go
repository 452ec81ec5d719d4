package expressions

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

func TestComparator_Operators(t *testing.T) {
	c := NewComparator()

	tests := []struct {
		name     string
		op       schema.ConditionOperator
		actual   any
		present  bool
		expected any
		want     bool
	}{
		{"equals match", schema.OpEquals, "y", true, "y", true},
		{"equals mismatch", schema.OpEquals, "z", true, "y", false},
		{"equals int vs float", schema.OpEquals, 1, true, 1.0, true},
		{"equals string vs number", schema.OpEquals, "1", true, 1, false},
		{"equals missing", schema.OpEquals, nil, false, "y", false},
		{"equals null", schema.OpEquals, nil, true, nil, true},

		{"greater numbers", schema.OpGreaterThan, 5, true, 3, true},
		{"greater equal numbers", schema.OpGreaterThan, 3, true, 3.0, false},
		{"greater numeric string", schema.OpGreaterThan, "10", true, 9, true},
		{"greater strings", schema.OpGreaterThan, "b", true, "a", true},
		{"greater mixed", schema.OpGreaterThan, true, true, 1, false},
		{"greater missing", schema.OpGreaterThan, nil, false, 1, false},
		{"greater json number", schema.OpGreaterThan, json.Number("10"), true, 5, true},
		{"less is not greater", schema.OpGreaterThan, 5, true, 10, false},

		{"contains substring", schema.OpContains, "hello world", true, "world", true},
		{"contains no substring", schema.OpContains, "hello", true, "world", false},
		{"contains element", schema.OpContains, []any{"a", "b"}, true, "b", true},
		{"contains typed slice", schema.OpContains, []string{"x"}, true, "x", true},
		{"contains numeric element", schema.OpContains, []any{1, 2}, true, 2, true},
		{"contains number in string", schema.OpContains, "v12", true, 12, true},
		{"contains null", schema.OpContains, nil, true, "x", false},
		{"contains map key", schema.OpContains, map[string]any{"k": 1}, true, "k", true},
		{"contains on number", schema.OpContains, 12, true, 1, false},

		{"exists present", schema.OpExists, "", true, nil, true},
		{"exists null value", schema.OpExists, nil, true, nil, true},
		{"exists missing", schema.OpExists, nil, false, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Compare(tt.op, tt.actual, tt.present, tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComparator_UnknownOperator(t *testing.T) {
	_, err := NewComparator().Compare("matches", "a", true, "a")
	assert.ErrorIs(t, err, schema.ErrValidation)
}

func TestComparator_ConcurrentUse(t *testing.T) {
	c := NewComparator()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Compare(schema.OpGreaterThan, i, true, 9)
			assert.NoError(t, err)
			assert.Equal(t, i > 9, got)
		}()
	}
	wg.Wait()
}

func TestComparator_ProgramsCachedPerSource(t *testing.T) {
	c := NewComparator()
	for range 3 {
		_, err := c.Compare(schema.OpContains, "hello world", true, "world")
		require.NoError(t, err)
		_, err = c.Compare(schema.OpGreaterThan, "b", true, "a")
		require.NoError(t, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Len(t, c.cache, 2)
}
