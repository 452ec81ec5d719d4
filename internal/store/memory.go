package store

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// MemoryStore is an in-process Store. Values are deep-copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	defs   map[string]*schema.WorkflowDefinition
	runs   map[string]*schema.WorkflowExecution
	events map[string][]*Event
	nextID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		defs:   make(map[string]*schema.WorkflowDefinition),
		runs:   make(map[string]*schema.WorkflowExecution),
		events: make(map[string][]*Event),
	}
}

// Migrate is a no-op.
func (m *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// SaveDefinition inserts or replaces def, keeping run statistics.
func (m *MemoryStore) SaveDefinition(_ context.Context, def *schema.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition needs an id")
	}
	cp, err := copyDefinition(def)
	if err != nil {
		return err
	}
	cp.CreatedAt = timeOrNow(cp.CreatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.defs[def.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
		cp.RunCount = prev.RunCount
		cp.LastRunAt = prev.LastRunAt
	}
	m.defs[def.ID] = cp
	return nil
}

// LoadDefinition returns a copy of the stored definition.
func (m *MemoryStore) LoadDefinition(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	m.mu.RLock()
	def, ok := m.defs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("workflow definition", id)
	}
	return copyDefinition(def)
}

// ListDefinitions returns definitions ordered by name.
func (m *MemoryStore) ListDefinitions(_ context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.WorkflowDefinition
	for _, def := range m.defs {
		if filter.ActiveOnly && !def.Active {
			continue
		}
		cp, err := copyDefinition(def)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b *schema.WorkflowDefinition) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteDefinition removes a definition.
func (m *MemoryStore) DeleteDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[id]; !ok {
		return storeNotFound("workflow definition", id)
	}
	delete(m.defs, id)
	return nil
}

// RecordRun increments the run counter and sets the last-run timestamp.
func (m *MemoryStore) RecordRun(_ context.Context, id string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	if !ok {
		return storeNotFound("workflow definition", id)
	}
	t := completedAt.UTC()
	def.LastRunAt = &t
	def.RunCount++
	return nil
}

// SaveRun upserts an execution record.
func (m *MemoryStore) SaveRun(_ context.Context, run *schema.WorkflowExecution) error {
	if run == nil || run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run needs an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run.Clone()
	return nil
}

// GetRun returns a copy of the execution record.
func (m *MemoryStore) GetRun(_ context.Context, id string) (*schema.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, storeNotFound("execution", id)
	}
	return run.Clone(), nil
}

// ListRuns returns matching records newest first.
func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*schema.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.WorkflowExecution
	for _, run := range m.runs {
		if filter.Matches(run) {
			out = append(out, run.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *schema.WorkflowExecution) int {
		return cmp.Or(b.StartedAt.Compare(a.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AppendEvent appends an event with the next per-execution sequence.
func (m *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	event.ID = m.nextID
	event.Sequence = int64(len(m.events[event.ExecutionID]) + 1)
	event.Timestamp = timeOrNow(event.Timestamp)
	cp := *event
	m.events[event.ExecutionID] = append(m.events[event.ExecutionID], &cp)
	return nil
}

// GetEvents returns events with sequence > since, in order.
func (m *MemoryStore) GetEvents(_ context.Context, executionID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for _, e := range m.events[executionID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func copyDefinition(def *schema.WorkflowDefinition) (*schema.WorkflowDefinition, error) {
	b, err := json.Marshal(def)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "copy definition %s: %s", def.ID, err.Error()).WithCause(err)
	}
	var cp schema.WorkflowDefinition
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "copy definition %s: %s", def.ID, err.Error()).WithCause(err)
	}
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
