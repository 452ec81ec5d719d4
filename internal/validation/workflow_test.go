package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/internal/engine"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

type kindSet map[schema.StepKind]bool

func (k kindSet) Has(kind schema.StepKind) bool { return k[kind] }

func step(id string, kind schema.StepKind, cfg string, successors ...string) schema.StepDefinition {
	return schema.StepDefinition{ID: id, Kind: kind, Config: json.RawMessage(cfg), Successors: successors}
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:     "launch",
		Name:   "Launch post",
		Active: true,
		Steps: []schema.StepDefinition{
			step("wait", schema.KindDelay, `{"durationMillis":0}`, "draft"),
			step("draft", schema.KindAIGenerate, `{"prompt":"Hello {{name}}","variables":{"name":"name"}}`, "check"),
			step("check", schema.KindCondition, `{"variable":"draft","operator":"exists"}`, "post"),
			step("post", schema.KindSocialPost, `{"content":"{{draft}}"}`),
		},
		Triggers: []schema.Trigger{
			{Kind: schema.TriggerManual},
			{Kind: schema.TriggerSchedule, Config: json.RawMessage(`{"cron":"0 9 * * 1"}`)},
		},
	}
}

func newValidator(t *testing.T, opts ...Option) *DefinitionValidator {
	t.Helper()
	v, err := NewDefinitionValidator(opts...)
	require.NoError(t, err)
	return v
}

func TestDefinitionValidator_ImplementsValidator(t *testing.T) {
	var _ Validator = (*DefinitionValidator)(nil)
}

func TestDefinitionValidator_Valid(t *testing.T) {
	v := newValidator(t, WithHandlers(kindSet{
		schema.KindDelay: true, schema.KindAIGenerate: true,
		schema.KindCondition: true, schema.KindSocialPost: true,
	}))
	result := v.Validate(validDefinition())
	assert.True(t, result.Valid(), result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NoError(t, v.ValidateDefinition(validDefinition()))
}

func TestDefinitionValidator_Nil(t *testing.T) {
	result := newValidator(t).Validate(nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestDefinitionValidator_StructuralShortCircuits(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Kind = "teleport"
	def.Steps = append(def.Steps, step("post", schema.KindSocialPost, `{"content":"dup"}`))

	result := newValidator(t).Validate(def)
	require.False(t, result.Valid())
	for _, issue := range result.Errors {
		assert.Equal(t, "/", issue.Path, "only structural issues are reported")
	}
}

func TestDefinitionValidator_StructuralConfig(t *testing.T) {
	tests := map[string]schema.StepDefinition{
		"missing config":   {ID: "a", Kind: schema.KindAIGenerate},
		"negative delay":   step("a", schema.KindDelay, `{"durationMillis":-5}`),
		"fractional delay": step("a", schema.KindDelay, `{"durationMillis":1.5}`),
		"unknown operator": step("a", schema.KindCondition, `{"variable":"x","operator":"lessThan"}`),
		"unknown field":    step("a", schema.KindSocialPost, `{"content":"x","hashtags":["go"]}`),
		"email without to": step("a", schema.KindEmailSend, `{"templateId":"welcome"}`),
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			def := &schema.WorkflowDefinition{ID: "wf", Steps: []schema.StepDefinition{s}}
			err := newValidator(t).ValidateDefinition(def)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
		})
	}
}

func TestDefinitionValidator_Semantic(t *testing.T) {
	def := validDefinition()
	def.Steps = append(def.Steps,
		step("draft", schema.KindDelay, `{"durationMillis":1}`),
		step("page", schema.KindDocumentCreate, `{"containerRef":"db","title":"T","pageKind":"poster"}`),
	)
	def.Triggers = append(def.Triggers, schema.Trigger{Kind: schema.TriggerSchedule, Config: json.RawMessage(`{"cron":"whenever"}`)})

	result := newValidator(t, WithHandlers(kindSet{schema.KindDelay: true, schema.KindAIGenerate: true, schema.KindCondition: true})).
		Validate(def)
	require.False(t, result.Valid())

	paths := map[string]string{}
	for _, issue := range result.Errors {
		paths[issue.Path] = issue.Code
	}
	assert.Equal(t, schema.ErrCodeValidation, paths["steps[4].id"])
	assert.Equal(t, schema.ErrCodeHandlerUnavailable, paths["steps[3].kind"])
	assert.Equal(t, schema.ErrCodeHandlerUnavailable, paths["steps[5].kind"])
	assert.Equal(t, schema.ErrCodeValidation, paths["steps[5].config"])
	assert.Equal(t, schema.ErrCodeValidation, paths["triggers[2]"])
}

func TestDefinitionValidator_Graph(t *testing.T) {
	tests := []struct {
		name string
		def  *schema.WorkflowDefinition
		path string
		code string
	}{
		{
			name: "dangling successor",
			def:  &schema.WorkflowDefinition{ID: "wf", Steps: []schema.StepDefinition{step("a", schema.KindDelay, `{"durationMillis":0}`, "ghost")}},
			path: "steps[0]",
			code: schema.ErrCodeDanglingSuccessor,
		},
		{
			name: "no entry",
			def: &schema.WorkflowDefinition{ID: "wf", Steps: []schema.StepDefinition{
				step("a", schema.KindDelay, `{"durationMillis":0}`, "b"),
				step("b", schema.KindDelay, `{"durationMillis":0}`, "a"),
			}},
			path: "steps",
			code: schema.ErrCodeNoEntryPoint,
		},
		{
			name: "empty",
			def:  &schema.WorkflowDefinition{ID: "wf"},
			path: "steps",
			code: schema.ErrCodeNoEntryPoint,
		},
		{
			name: "cycle",
			def: &schema.WorkflowDefinition{ID: "wf", Steps: []schema.StepDefinition{
				step("root", schema.KindDelay, `{"durationMillis":0}`, "a"),
				step("a", schema.KindDelay, `{"durationMillis":0}`, "b"),
				step("b", schema.KindDelay, `{"durationMillis":0}`, "a"),
			}},
			path: "steps",
			code: schema.ErrCodeCycleDetected,
		},
		{
			name: "bad guard",
			def: &schema.WorkflowDefinition{ID: "wf", Steps: []schema.StepDefinition{
				{ID: "a", Kind: schema.KindDelay, Config: json.RawMessage(`{"durationMillis":0}`), When: "vars.x >"},
			}},
			path: "steps[0]",
			code: schema.ErrCodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newValidator(t).Validate(tt.def)
			require.Len(t, result.Errors, 1, result.Errors)
			assert.Equal(t, tt.path, result.Errors[0].Path)
			assert.Equal(t, tt.code, result.Errors[0].Code)

			err := result.ToError()
			assert.Equal(t, tt.code, schema.CodeOf(err))
		})
	}
}

func TestDefinitionValidator_CycleGuardWarnsUnreachable(t *testing.T) {
	def := &schema.WorkflowDefinition{ID: "wf", Steps: []schema.StepDefinition{
		step("root", schema.KindDelay, `{"durationMillis":0}`),
		step("a", schema.KindDelay, `{"durationMillis":0}`, "b"),
		step("b", schema.KindDelay, `{"durationMillis":0}`, "a"),
	}}

	result := newValidator(t, WithCyclePolicy(engine.CycleGuard)).Validate(def)
	assert.True(t, result.Valid(), result.Errors)
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "steps[1]", result.Warnings[0].Path)
	assert.Equal(t, "steps[2]", result.Warnings[1].Path)
}

func TestSchemaValidator_Document(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	raw, err := json.Marshal(validDefinition())
	require.NoError(t, err)
	assert.NoError(t, sv.ValidateDocument(raw))

	err = sv.ValidateDocument([]byte(`{"id":"wf","steps":[],"owner":"me"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")

	err = sv.ValidateDocument([]byte(`{"id":"wf","steps":[{"id":"a","kind":"delay","config":{"durationMillis":"soon"}}]}`))
	require.Error(t, err)
	joined := strings.Join(violationsOf(t, err), "\n")
	assert.Contains(t, joined, "/steps/0/config/durationMillis")

	err = sv.ValidateDocument([]byte(`{not json`))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestSchemaValidator_CollectsViolations(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	err = sv.ValidateDocument([]byte(`{"steps":[{"kind":"delay","config":{"durationMillis":1}}]}`))
	violations := violationsOf(t, err)
	assert.GreaterOrEqual(t, len(violations), 2, "missing workflow id and missing step id")
}

func violationsOf(t *testing.T, err error) []string {
	t.Helper()
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	violations, ok := fe.Details["violations"].([]string)
	require.True(t, ok, "details carry violations")
	return violations
}
