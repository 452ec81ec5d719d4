package store

import (
	"encoding/json"
	"time"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// Event is an immutable entry in the run event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	StepID      string          `json:"step_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// DefinitionFilter narrows ListDefinitions.
type DefinitionFilter struct {
	ActiveOnly bool
	Limit      int
}

// RunFilter narrows ListRuns. Results are newest first.
type RunFilter struct {
	WorkflowID string
	Status     schema.ExecutionStatus
	Since      *time.Time
	Limit      int
}

// Matches reports whether run passes the filter's predicates (not Limit).
func (f RunFilter) Matches(run *schema.WorkflowExecution) bool {
	if f.WorkflowID != "" && run.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Status != "" && run.Status != f.Status {
		return false
	}
	if f.Since != nil && run.StartedAt.Before(*f.Since) {
		return false
	}
	return true
}
