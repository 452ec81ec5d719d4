// Package vars holds the per-run variable context shared by the steps of one
// workflow execution.
package vars

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrKeyExists is returned when a key that already holds a value is written.
var ErrKeyExists = errors.New("context key already set")

// Reader is the read-only view handlers receive.
type Reader interface {
	Get(key string) (any, bool)
	Snapshot() map[string]any
}

// Context maps step IDs (and caller-seeded variable names) to values.
// Every key is written at most once. Safe for concurrent use.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// New returns a context seeded with a copy of seed.
func New(seed map[string]any) *Context {
	values := make(map[string]any, len(seed))
	maps.Copy(values, seed)
	return &Context{values: values}
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key. It fails with ErrKeyExists if key is taken.
func (c *Context) Set(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return fmt.Errorf("set %q: %w", key, ErrKeyExists)
	}
	c.values[key] = value
	return nil
}

// Snapshot returns a shallow copy of every entry.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values)
}
