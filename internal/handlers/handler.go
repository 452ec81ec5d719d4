// Package handlers implements the step kinds a workflow can contain and the
// kind-keyed registry the engine dispatches through.
package handlers

import (
	"context"
	"encoding/json"

	"github.com/alexsaulik/promptfolio/internal/vars"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// Handler executes one kind of step.
type Handler interface {
	Kind() schema.StepKind
	Description() string
	Execute(ctx context.Context, input StepInput) (any, error)
}

// HandlerRegistry is the lookup the engine dispatches through.
type HandlerRegistry interface {
	Register(h Handler) error
	Get(kind schema.StepKind) (Handler, error)
	List() []HandlerInfo
}

// StepInput is the data a handler receives for one step visit.
type StepInput struct {
	Step *schema.StepDefinition
	Vars vars.Reader
}

// HandlerInfo is a summary of a registered handler for listing.
type HandlerInfo struct {
	Kind        schema.StepKind `json:"kind"`
	Description string          `json:"description,omitempty"`
}

// --- Collaborators ---

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// SocialPublisher publishes a post and returns its descriptor.
type SocialPublisher interface {
	Publish(ctx context.Context, content, mediaRef string) (*PostDescriptor, error)
}

// PageCreator creates a page inside a container of a workspace tool.
type PageCreator interface {
	CreatePage(ctx context.Context, req PageRequest) (*PageDescriptor, error)
}

// EmailSender sends a templated email.
type EmailSender interface {
	SendTemplated(ctx context.Context, templateID, to, subject string, variables map[string]any) (*Receipt, error)
}

// PostDescriptor describes a published social post.
type PostDescriptor struct {
	ID          string `json:"id"`
	URL         string `json:"url,omitempty"`
	Network     string `json:"network,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// PageRequest is what a document_create step asks the page creator for.
type PageRequest struct {
	ContainerRef string      `json:"container_ref"`
	Kind         string      `json:"kind"`
	Title        string      `json:"title"`
	Content      string      `json:"content,omitempty"`
	Blocks       []PageBlock `json:"blocks"`
}

// PageDescriptor describes a created page.
type PageDescriptor struct {
	ID           string `json:"id"`
	URL          string `json:"url,omitempty"`
	ContainerRef string `json:"container_ref"`
	Title        string `json:"title"`
}

// Receipt is the outcome of an email send.
type Receipt struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	Accepted  bool   `json:"accepted"`
}

// Collaborators bundles the external services the built-in handlers call.
type Collaborators struct {
	Text   TextGenerator
	Social SocialPublisher
	Pages  PageCreator
	Email  EmailSender
}

func decodeConfig[T any](step *schema.StepDefinition) (*T, error) {
	var cfg T
	if len(step.Config) == 0 {
		return &cfg, nil
	}
	if err := json.Unmarshal(step.Config, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid %s config: %s", step.Kind, err.Error()).WithStep(step.ID).WithCause(err)
	}
	return &cfg, nil
}
