// Package store persists workflow definitions, execution records and the run
// event log.
package store

import (
	"context"
	"time"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// DefinitionStore is the collaborator the engine reads definitions from.
// LoadDefinition returns a NOT_FOUND FlowError for unknown IDs.
type DefinitionStore interface {
	LoadDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	RecordRun(ctx context.Context, id string, completedAt time.Time) error
}

// DefinitionRepository adds CRUD to DefinitionStore.
type DefinitionRepository interface {
	DefinitionStore
	SaveDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error
}

// RunStore persists execution records. SaveRun is an upsert.
type RunStore interface {
	SaveRun(ctx context.Context, run *schema.WorkflowExecution) error
	GetRun(ctx context.Context, id string) (*schema.WorkflowExecution, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.WorkflowExecution, error)
}

// EventStore is the append-only run event log. AppendEvent assigns the
// per-execution sequence number and timestamp.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)
}

// Store is a complete persistence backend.
// All implementations must be safe for concurrent use.
type Store interface {
	DefinitionRepository
	RunStore
	EventStore

	Migrate(ctx context.Context) error
	Close() error
}
