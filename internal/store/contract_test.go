package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

func sampleDefinition(id, name string) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:     id,
		Name:   name,
		Active: true,
		Steps: []schema.StepDefinition{
			{ID: "draft", Kind: schema.KindAIGenerate, Config: json.RawMessage(`{"prompt":"Write about {{topic}}"}`), Successors: []string{"wait"}},
			{ID: "wait", Kind: schema.KindDelay, Config: json.RawMessage(`{"durationMillis":10}`)},
		},
		Triggers: []schema.Trigger{{Kind: schema.TriggerManual}},
	}
}

func sampleRun(workflowID string, started time.Time) *schema.WorkflowExecution {
	return &schema.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     schema.ExecutionRunning,
		StartedAt:  started.UTC().Truncate(time.Millisecond),
		Context:    map[string]any{"topic": "go"},
	}
}

// testDefinitionStore exercises the DefinitionRepository contract.
func testDefinitionStore(t *testing.T, s DefinitionRepository) {
	ctx := context.Background()

	t.Run("save and load", func(t *testing.T) {
		def := sampleDefinition("wf-save", "Save")
		require.NoError(t, s.SaveDefinition(ctx, def))

		got, err := s.LoadDefinition(ctx, "wf-save")
		require.NoError(t, err)
		assert.Equal(t, "Save", got.Name)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, []string{"wait"}, got.Steps[0].Successors)
		assert.JSONEq(t, `{"prompt":"Write about {{topic}}"}`, string(got.Steps[0].Config))
		assert.Equal(t, schema.TriggerManual, got.Triggers[0].Kind)
		assert.Zero(t, got.RunCount)
		assert.Nil(t, got.LastRunAt)
	})

	t.Run("load missing", func(t *testing.T) {
		_, err := s.LoadDefinition(ctx, "nope")
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	})

	t.Run("record run", func(t *testing.T) {
		require.NoError(t, s.SaveDefinition(ctx, sampleDefinition("wf-rec", "Rec")))
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.RecordRun(ctx, "wf-rec", at))
		require.NoError(t, s.RecordRun(ctx, "wf-rec", at.Add(time.Hour)))

		got, err := s.LoadDefinition(ctx, "wf-rec")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.RunCount)
		require.NotNil(t, got.LastRunAt)
		assert.True(t, got.LastRunAt.Equal(at.Add(time.Hour)))

		// Re-saving keeps run statistics.
		def := sampleDefinition("wf-rec", "Renamed")
		require.NoError(t, s.SaveDefinition(ctx, def))
		got, err = s.LoadDefinition(ctx, "wf-rec")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, int64(2), got.RunCount)
	})

	t.Run("record run missing", func(t *testing.T) {
		err := s.RecordRun(ctx, "ghost", time.Now())
		assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	})

	t.Run("list and delete", func(t *testing.T) {
		inactive := sampleDefinition("wf-off", "Aardvark")
		inactive.Active = false
		require.NoError(t, s.SaveDefinition(ctx, inactive))

		all, err := s.ListDefinitions(ctx, DefinitionFilter{})
		require.NoError(t, err)
		require.NotEmpty(t, all)
		assert.Equal(t, "wf-off", all[0].ID)

		active, err := s.ListDefinitions(ctx, DefinitionFilter{ActiveOnly: true})
		require.NoError(t, err)
		for _, d := range active {
			assert.True(t, d.Active, d.ID)
		}

		limited, err := s.ListDefinitions(ctx, DefinitionFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		require.NoError(t, s.DeleteDefinition(ctx, "wf-off"))
		_, err = s.LoadDefinition(ctx, "wf-off")
		assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
		assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(s.DeleteDefinition(ctx, "wf-off")))
	})
}

// testRunStore exercises the RunStore contract.
func testRunStore(t *testing.T, s RunStore) {
	ctx := context.Background()
	// Stored start times have millisecond precision; keep filter bounds on
	// the same grid.
	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)

	t.Run("save, update and get", func(t *testing.T) {
		run := sampleRun("wf-a", base)
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.ExecutionRunning, got.Status)
		assert.Equal(t, "go", got.Context["topic"])
		assert.Nil(t, got.CompletedAt)

		done := base.Add(time.Minute).UTC().Truncate(time.Millisecond)
		run.Status = schema.ExecutionFailed
		run.CompletedAt = &done
		run.CurrentStepID = "draft"
		run.Errors = []string{"step \"draft\" (ai_generate) failed: boom"}
		run.Trail = []schema.StepTrace{{StepID: "draft", Kind: schema.KindAIGenerate, Outcome: schema.StepFailed, StartedAt: run.StartedAt, Duration: 5 * time.Millisecond, Error: "boom"}}
		require.NoError(t, s.SaveRun(ctx, run))

		got, err = s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.ExecutionFailed, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(done))
		assert.Equal(t, "draft", got.CurrentStepID)
		assert.Equal(t, run.Errors, got.Errors)
		require.Len(t, got.Trail, 1)
		assert.Equal(t, schema.StepFailed, got.Trail[0].Outcome)
		assert.Equal(t, 5*time.Millisecond, got.Trail[0].Duration)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.GetRun(ctx, "missing")
		assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	})

	t.Run("list filters", func(t *testing.T) {
		older := sampleRun("wf-list", base.Add(time.Second))
		newer := sampleRun("wf-list", base.Add(2*time.Second))
		newer.Status = schema.ExecutionCompleted
		other := sampleRun("wf-other", base.Add(3*time.Second))
		for _, r := range []*schema.WorkflowExecution{older, newer, other} {
			require.NoError(t, s.SaveRun(ctx, r))
		}

		runs, err := s.ListRuns(ctx, RunFilter{WorkflowID: "wf-list"})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, newer.ID, runs[0].ID)
		assert.Equal(t, older.ID, runs[1].ID)

		runs, err = s.ListRuns(ctx, RunFilter{WorkflowID: "wf-list", Status: schema.ExecutionCompleted})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, newer.ID, runs[0].ID)

		since := newer.StartedAt
		runs, err = s.ListRuns(ctx, RunFilter{Since: &since})
		require.NoError(t, err)
		ids := make([]string, 0, len(runs))
		for _, r := range runs {
			ids = append(ids, r.ID)
		}
		assert.ElementsMatch(t, []string{newer.ID, other.ID}, ids)

		runs, err = s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})
}

// testEventStore exercises the EventStore contract.
func testEventStore(t *testing.T, s EventStore) {
	ctx := context.Background()
	execA, execB := uuid.New().String(), uuid.New().String()

	for i, typ := range []string{schema.EventRunStarted, schema.EventStepStarted, schema.EventStepCompleted} {
		e := &Event{ExecutionID: execA, WorkflowID: "wf", Type: typ}
		if i > 0 {
			e.StepID = "draft"
			e.Payload = json.RawMessage(`{"content":"hi"}`)
		}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.False(t, e.Timestamp.IsZero())
	}
	require.NoError(t, s.AppendEvent(ctx, &Event{ExecutionID: execB, WorkflowID: "wf", Type: schema.EventRunStarted}))

	events, err := s.GetEvents(ctx, execA, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
	assert.Empty(t, events[0].StepID)
	assert.Equal(t, "draft", events[2].StepID)
	assert.JSONEq(t, `{"content":"hi"}`, string(events[2].Payload))

	events, err = s.GetEvents(ctx, execA, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].Sequence)

	events, err = s.GetEvents(ctx, execB, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Sequence)
}
