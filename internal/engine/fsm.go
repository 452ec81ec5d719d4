package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/alexsaulik/promptfolio/internal/store"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store and EventLog; used by the FSM and
// walker to emit events.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type runHookKey struct {
	from, to schema.ExecutionStatus
}

// RunFSM manages execution lifecycle transitions.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[runHookKey][]TransitionHook
	after    map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that emits events via appender. A nil appender
// disables event emission.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{
		appender: appender,
		before:   make(map[runHookKey][]TransitionHook),
		after:    make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition. A hook error
// aborts the transition.
func (f *RunFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RunFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from → to for run and emits the matching event.
// The caller updates run.Status and persists the record.
func (f *RunFSM) Transition(ctx context.Context, run *schema.WorkflowExecution, from, to schema.ExecutionStatus) error {
	f.mu.Lock()
	before := slices.Clone(f.before[runHookKey{from, to}])
	after := slices.Clone(f.after[runHookKey{from, to}])
	f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": run.ID, "from": string(from), "to": string(to)})
	}

	for _, hook := range before {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType := runEventType(to); eventType != "" && f.appender != nil {
		event := &store.Event{
			ExecutionID: run.ID,
			WorkflowID:  run.WorkflowID,
			StepID:      run.CurrentStepID,
			Type:        eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit execution event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range after {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

func isValidRunTransition(from, to schema.ExecutionStatus) bool {
	return slices.Contains(ValidRunTransitions[from], to)
}

func runEventType(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionRunning:
		return schema.EventRunStarted
	case schema.ExecutionCompleted:
		return schema.EventRunCompleted
	case schema.ExecutionFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}

// ValidRunTransitions defines the allowed execution state transitions.
// Terminal states have none.
var ValidRunTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionPending:   {schema.ExecutionRunning, schema.ExecutionFailed},
	schema.ExecutionRunning:   {schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
}
