package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/internal/vars"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

type fakeText struct {
	mu      sync.Mutex
	prompts []string
	models  []string
	err     error
}

func (f *fakeText) Generate(_ context.Context, prompt, model string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.models = append(f.models, model)
	if f.err != nil {
		return "", f.err
	}
	return "generated: " + prompt, nil
}

type fakeSocial struct {
	content  string
	mediaRef string
}

func (f *fakeSocial) Publish(_ context.Context, content, mediaRef string) (*PostDescriptor, error) {
	f.content, f.mediaRef = content, mediaRef
	return &PostDescriptor{ID: "post-1", URL: "https://social.test/post-1", Network: "test"}, nil
}

type fakePages struct {
	req PageRequest
}

func (f *fakePages) CreatePage(_ context.Context, req PageRequest) (*PageDescriptor, error) {
	f.req = req
	return &PageDescriptor{ID: "page-1", ContainerRef: req.ContainerRef, Title: req.Title}, nil
}

type fakeEmail struct {
	templateID, to, subject string
	variables               map[string]any
}

func (f *fakeEmail) SendTemplated(_ context.Context, templateID, to, subject string, variables map[string]any) (*Receipt, error) {
	f.templateID, f.to, f.subject, f.variables = templateID, to, subject, variables
	return &Receipt{MessageID: fmt.Sprintf("msg-%s", templateID), To: to, Accepted: true}, nil
}

func step(t *testing.T, id string, kind schema.StepKind, cfg any) *schema.StepDefinition {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &schema.StepDefinition{ID: id, Kind: kind, Config: raw}
}

func input(s *schema.StepDefinition, seed map[string]any) StepInput {
	return StepInput{Step: s, Vars: vars.New(seed)}
}
