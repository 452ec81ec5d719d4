package vars

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_SeedIsCopied(t *testing.T) {
	seed := map[string]any{"name": "Ada"}
	c := New(seed)
	seed["name"] = "Grace"

	v, ok := c.Get("name")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)
}

func TestContext_WriteOnce(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Set("s1", map[string]any{"delayedMillis": 0}))

	err := c.Set("s1", "again")
	assert.ErrorIs(t, err, ErrKeyExists)

	v, _ := c.Get("s1")
	assert.Equal(t, map[string]any{"delayedMillis": 0}, v)
}

func TestContext_SeededKeyCannotBeOverwritten(t *testing.T) {
	c := New(map[string]any{"s1": "seeded"})
	assert.ErrorIs(t, c.Set("s1", "result"), ErrKeyExists)
}

func TestContext_SnapshotIsDetached(t *testing.T) {
	c := New(map[string]any{"a": 1})
	snap := c.Snapshot()
	snap["b"] = 2

	_, ok := c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, map[string]any{"a": 1}, c.Snapshot())
}

func TestContext_ConcurrentWriters(t *testing.T) {
	c := New(nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Set(fmt.Sprintf("k%d", i), i)
			_, _ = c.Get("k0")
		}()
	}
	wg.Wait()
	assert.Len(t, c.Snapshot(), 50)
}
