package schema

import (
	"maps"
	"slices"
	"time"
)

// WorkflowExecution is the record of one run of a workflow.
// Errors is non-empty iff Status is failed.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CurrentStepID string          `json:"current_step_id,omitempty"`
	Context       map[string]any  `json:"context"`
	Errors        []string        `json:"errors,omitempty"`
	Trail         []StepTrace     `json:"trail,omitempty"`
}

// StepTrace records one step visit, in the order steps were entered.
type StepTrace struct {
	StepID    string        `json:"step_id"`
	Kind      StepKind      `json:"kind"`
	Outcome   StepOutcome   `json:"outcome"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// Clone returns a copy whose maps and slices are not shared with e.
// Context values are copied shallowly.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}
	c := *e
	c.Context = maps.Clone(e.Context)
	if c.Context == nil {
		c.Context = map[string]any{}
	}
	c.Errors = slices.Clone(e.Errors)
	c.Trail = slices.Clone(e.Trail)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
