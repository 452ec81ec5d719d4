package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// EventLog provides replay on top of an EventStore.
type EventLog struct {
	store EventStore
}

// NewEventLog wraps an EventStore.
func NewEventLog(s EventStore) *EventLog {
	return &EventLog{store: s}
}

// Append records an event of the given type. payload may be nil.
func (el *EventLog) Append(ctx context.Context, executionID, workflowID, stepID, eventType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		raw = b
	}
	return el.store.AppendEvent(ctx, &Event{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		StepID:      stepID,
		Type:        eventType,
		Payload:     raw,
	})
}

// AppendEvent passes event through to the underlying store.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents returns events for an execution with sequence > since.
func (el *EventLog) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, executionID, since)
}

// StepState is a step's state reconstructed from the event log.
type StepState struct {
	StepID      string             `json:"step_id"`
	Outcome     schema.StepOutcome `json:"outcome,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	DurationMs  int64              `json:"duration_ms"`
	Output      json.RawMessage    `json:"output,omitempty"`
	Error       json.RawMessage    `json:"error,omitempty"`
}

// Replay reads every event of an execution and rebuilds per-step state.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, executionID string) (map[string]*StepState, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	if err := checkContiguous(executionID, events); err != nil {
		return nil, err
	}

	states := make(map[string]*StepState)
	for _, e := range events {
		if e.StepID == "" {
			continue
		}
		ss, ok := states[e.StepID]
		if !ok {
			ss = &StepState{StepID: e.StepID}
			states[e.StepID] = ss
		}

		ts := e.Timestamp
		switch e.Type {
		case schema.EventStepStarted:
			ss.StartedAt = &ts

		case schema.EventStepCompleted:
			ss.Outcome = schema.StepCompleted
			ss.CompletedAt = &ts
			ss.Output = e.Payload
			if ss.StartedAt != nil {
				ss.DurationMs = ts.Sub(*ss.StartedAt).Milliseconds()
			}

		case schema.EventStepFailed:
			ss.Outcome = schema.StepFailed
			ss.CompletedAt = &ts
			ss.Error = e.Payload

		case schema.EventStepSkipped:
			ss.Outcome = schema.StepSkipped
		}
	}
	return states, nil
}

// TimelineEntry is one line of an execution timeline.
type TimelineEntry struct {
	Sequence  int64           `json:"sequence"`
	Type      string          `json:"event_type"`
	StepID    string          `json:"step_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Timeline returns every event of an execution in sequence order.
func (el *EventLog) Timeline(ctx context.Context, executionID string) ([]TimelineEntry, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for timeline: %w", err)
	}
	if err := checkContiguous(executionID, events); err != nil {
		return nil, err
	}
	out := make([]TimelineEntry, 0, len(events))
	for _, e := range events {
		out = append(out, TimelineEntry{
			Sequence:  e.Sequence,
			Type:      e.Type,
			StepID:    e.StepID,
			Timestamp: e.Timestamp,
			Payload:   e.Payload,
		})
	}
	return out, nil
}

func checkContiguous(executionID string, events []*Event) error {
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Sequence)
		}
	}
	return nil
}

var _ EventStore = (*EventLog)(nil)
