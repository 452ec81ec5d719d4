package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

func TestEventLog_Replay(t *testing.T) {
	el := NewEventLog(newTestStore(t))
	ctx := context.Background()
	exec := "exec-1"

	start := time.Now().UTC()
	require.NoError(t, el.Append(ctx, exec, "wf", "", schema.EventRunStarted, nil))
	require.NoError(t, el.AppendEvent(ctx, &Event{ExecutionID: exec, WorkflowID: "wf", StepID: "draft", Type: schema.EventStepStarted, Timestamp: start}))
	require.NoError(t, el.AppendEvent(ctx, &Event{ExecutionID: exec, WorkflowID: "wf", StepID: "draft", Type: schema.EventStepCompleted, Timestamp: start.Add(40 * time.Millisecond), Payload: []byte(`{"content":"x"}`)}))
	require.NoError(t, el.Append(ctx, exec, "wf", "post", schema.EventStepSkipped, map[string]any{"reason": "guard"}))
	require.NoError(t, el.Append(ctx, exec, "wf", "mail", schema.EventStepStarted, nil))
	require.NoError(t, el.Append(ctx, exec, "wf", "mail", schema.EventStepFailed, map[string]string{"error": "smtp down"}))

	states, err := el.Replay(ctx, exec)
	require.NoError(t, err)
	require.Len(t, states, 3)

	assert.Equal(t, schema.StepCompleted, states["draft"].Outcome)
	assert.Equal(t, int64(40), states["draft"].DurationMs)
	assert.JSONEq(t, `{"content":"x"}`, string(states["draft"].Output))

	assert.Equal(t, schema.StepSkipped, states["post"].Outcome)

	assert.Equal(t, schema.StepFailed, states["mail"].Outcome)
	assert.JSONEq(t, `{"error":"smtp down"}`, string(states["mail"].Error))
}

func TestEventLog_ReplayEmpty(t *testing.T) {
	el := NewEventLog(NewMemoryStore())
	states, err := el.Replay(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestEventLog_Timeline(t *testing.T) {
	el := NewEventLog(NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, el.Append(ctx, "e", "wf", "", schema.EventRunStarted, nil))
	require.NoError(t, el.Append(ctx, "e", "wf", "s1", schema.EventStepStarted, nil))
	require.NoError(t, el.Append(ctx, "e", "wf", "", schema.EventRunCompleted, nil))

	tl, err := el.Timeline(ctx, "e")
	require.NoError(t, err)
	require.Len(t, tl, 3)
	assert.Equal(t, schema.EventRunStarted, tl[0].Type)
	assert.Equal(t, "s1", tl[1].StepID)
	assert.Equal(t, int64(3), tl[2].Sequence)
}

type gappyEvents struct{ EventStore }

func (gappyEvents) GetEvents(context.Context, string, int64) ([]*Event, error) {
	return []*Event{{Sequence: 1}, {Sequence: 3}}, nil
}

func TestEventLog_DetectsGap(t *testing.T) {
	el := NewEventLog(gappyEvents{NewMemoryStore()})
	_, err := el.Replay(context.Background(), "e")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))

	_, err = el.Timeline(context.Background(), "e")
	assert.Error(t, err)
}
