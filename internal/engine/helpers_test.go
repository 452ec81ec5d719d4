package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/internal/expressions"
	"github.com/alexsaulik/promptfolio/internal/handlers"
	"github.com/alexsaulik/promptfolio/internal/store"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// recorder collects collaborator calls in order across all fakes.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeText struct {
	rec *recorder
	// failOn makes Generate fail for prompts equal to it. "*" fails all.
	failOn string
	// panicOn makes Generate panic for prompts equal to it.
	panicOn string
}

func (f *fakeText) Generate(_ context.Context, prompt, model string) (string, error) {
	f.rec.add("generate:%s", prompt)
	if f.panicOn != "" && f.panicOn == prompt {
		panic("collaborator crashed on " + prompt)
	}
	if f.failOn == "*" || (f.failOn != "" && f.failOn == prompt) {
		return "", errors.New("model overloaded")
	}
	return "text for " + prompt, nil
}

type fakeSocial struct{ rec *recorder }

func (f *fakeSocial) Publish(_ context.Context, content, _ string) (*handlers.PostDescriptor, error) {
	f.rec.add("publish:%s", content)
	return &handlers.PostDescriptor{ID: "post-1"}, nil
}

type fakePages struct{ rec *recorder }

func (f *fakePages) CreatePage(_ context.Context, req handlers.PageRequest) (*handlers.PageDescriptor, error) {
	f.rec.add("page:%s", req.Title)
	return &handlers.PageDescriptor{ID: "page-1", Title: req.Title}, nil
}

type fakeEmail struct{ rec *recorder }

func (f *fakeEmail) SendTemplated(_ context.Context, templateID, to, subject string, _ map[string]any) (*handlers.Receipt, error) {
	f.rec.add("email:%s:%s", to, subject)
	return &handlers.Receipt{MessageID: "m-1", To: to, Accepted: true}, nil
}

type testEnv struct {
	engine Engine
	store  *store.MemoryStore
	rec    *recorder
	text   *fakeText
}

type envOption func(*Config, *handlers.Options)

func withPolicies(p Policies) envOption {
	return func(c *Config, _ *handlers.Options) { c.Policies = p }
}

func withStrictTemplates() envOption {
	return func(_ *Config, o *handlers.Options) {
		o.Templates = expressions.NewRenderer(expressions.TemplateStrict)
	}
}

func withObserver(obs Observer) envOption {
	return func(c *Config, _ *handlers.Options) { c.Observer = obs }
}

func withConfig(fn func(*Config)) envOption {
	return func(c *Config, _ *handlers.Options) { fn(c) }
}

func newTestEnv(t *testing.T, defs []*schema.WorkflowDefinition, opts ...envOption) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	for _, d := range defs {
		require.NoError(t, st.SaveDefinition(ctx, d))
	}

	rec := &recorder{}
	text := &fakeText{rec: rec}
	cfg := Config{Definitions: st, Runs: st, Events: st}
	var hopts handlers.Options
	for _, o := range opts {
		o(&cfg, &hopts)
	}

	reg := handlers.NewRegistry()
	require.NoError(t, handlers.RegisterBuiltins(reg, handlers.Collaborators{
		Text:   text,
		Social: &fakeSocial{rec: rec},
		Pages:  &fakePages{rec: rec},
		Email:  &fakeEmail{rec: rec},
	}, hopts))
	cfg.Handlers = reg

	eng, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(eng.Shutdown)
	return &testEnv{engine: eng, store: st, rec: rec, text: text}
}

func workflow(id string, steps ...schema.StepDefinition) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{ID: id, Name: id, Active: true, Steps: steps}
}

func mkStep(id string, kind schema.StepKind, cfg any, successors ...string) schema.StepDefinition {
	raw, err := json.Marshal(cfg)
	if err != nil {
		panic(err)
	}
	return schema.StepDefinition{ID: id, Kind: kind, Config: raw, Successors: successors}
}

func aiStep(id, prompt string, successors ...string) schema.StepDefinition {
	return mkStep(id, schema.KindAIGenerate, map[string]any{"prompt": prompt, "model": "m"}, successors...)
}

func delayStep(id string, millis int64, successors ...string) schema.StepDefinition {
	return mkStep(id, schema.KindDelay, map[string]any{"durationMillis": millis}, successors...)
}

func conditionStep(id, variable, op string, value any, successors ...string) schema.StepDefinition {
	return mkStep(id, schema.KindCondition, map[string]any{"variable": variable, "operator": op, "value": value}, successors...)
}

// recordingObserver counts lifecycle callbacks.
type recordingObserver struct {
	NoopObserver
	mu       sync.Mutex
	started  int
	done     int
	failed   int
	outcomes map[string]schema.StepOutcome
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{outcomes: make(map[string]schema.StepOutcome)}
}

func (o *recordingObserver) OnRunStart(context.Context, RunInfo) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) OnRunCompleted(context.Context, RunInfo, time.Duration) {
	o.mu.Lock()
	o.done++
	o.mu.Unlock()
}

func (o *recordingObserver) OnRunFailed(context.Context, RunInfo, error, time.Duration) {
	o.mu.Lock()
	o.failed++
	o.mu.Unlock()
}

func (o *recordingObserver) OnStepCompleted(_ context.Context, _ RunInfo, step *schema.StepDefinition, outcome schema.StepOutcome, _ error, _ time.Duration) {
	o.mu.Lock()
	o.outcomes[step.ID] = outcome
	o.mu.Unlock()
}
