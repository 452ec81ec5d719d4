package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/internal/store"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Events() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*store.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockAppender) Types() []string {
	var out []string
	for _, e := range m.Events() {
		out = append(out, e.Type)
	}
	return out
}

// failAppender always returns an error.
type failAppender struct{}

func (failAppender) AppendEvent(context.Context, *store.Event) error {
	return errors.New("store unavailable")
}

func TestRunFSM_ValidTransitions(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)
	ctx := context.Background()
	run := &schema.WorkflowExecution{ID: "exec-1", WorkflowID: "wf-1"}

	require.NoError(t, fsm.Transition(ctx, run, schema.ExecutionPending, schema.ExecutionRunning))
	require.NoError(t, fsm.Transition(ctx, run, schema.ExecutionRunning, schema.ExecutionCompleted))

	events := app.Events()
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
	assert.Equal(t, schema.EventRunCompleted, events[1].Type)
	assert.Equal(t, "exec-1", events[0].ExecutionID)
	assert.Equal(t, "wf-1", events[0].WorkflowID)
}

func TestRunFSM_TerminalStatesAreFinal(t *testing.T) {
	fsm := NewRunFSM(nil)
	ctx := context.Background()
	run := &schema.WorkflowExecution{ID: "exec-1"}

	for _, from := range []schema.ExecutionStatus{schema.ExecutionCompleted, schema.ExecutionFailed} {
		for _, to := range []schema.ExecutionStatus{schema.ExecutionPending, schema.ExecutionRunning, schema.ExecutionCompleted, schema.ExecutionFailed} {
			err := fsm.Transition(ctx, run, from, to)
			require.Error(t, err, "%s -> %s", from, to)
			assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
		}
	}
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)

	err := fsm.Transition(context.Background(), &schema.WorkflowExecution{ID: "e"}, schema.ExecutionPending, schema.ExecutionCompleted)
	require.Error(t, err)

	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeInvalidTransition, fe.Code)
	assert.Contains(t, fe.Message, "pending")
	assert.Empty(t, app.Events())
}

func TestRunFSM_Hooks(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)
	var calls []string
	fsm.OnBefore(schema.ExecutionPending, schema.ExecutionRunning, func(from, to string) error {
		calls = append(calls, "before:"+from+"->"+to)
		return nil
	})
	fsm.OnAfter(schema.ExecutionPending, schema.ExecutionRunning, func(from, to string) error {
		calls = append(calls, "after")
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), &schema.WorkflowExecution{ID: "e"}, schema.ExecutionPending, schema.ExecutionRunning))
	assert.Equal(t, []string{"before:pending->running", "after"}, calls)
}

func TestRunFSM_BeforeHookAborts(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)
	fsm.OnBefore(schema.ExecutionRunning, schema.ExecutionCompleted, func(string, string) error {
		return errors.New("veto")
	})

	err := fsm.Transition(context.Background(), &schema.WorkflowExecution{ID: "e"}, schema.ExecutionRunning, schema.ExecutionCompleted)
	assert.EqualError(t, err, "veto")
	assert.Empty(t, app.Events())
}

func TestRunFSM_AppenderFailure(t *testing.T) {
	fsm := NewRunFSM(failAppender{})
	err := fsm.Transition(context.Background(), &schema.WorkflowExecution{ID: "e"}, schema.ExecutionPending, schema.ExecutionRunning)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}
