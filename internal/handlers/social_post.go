package handlers

import (
	"context"

	"github.com/alexsaulik/promptfolio/internal/expressions"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// SocialPostHandler publishes templated content through the social publisher.
type SocialPostHandler struct {
	social SocialPublisher
	opts   Options
}

// NewSocialPostHandler creates the social_post handler.
func NewSocialPostHandler(social SocialPublisher, opts Options) *SocialPostHandler {
	return &SocialPostHandler{social: social, opts: opts.withDefaults()}
}

func (h *SocialPostHandler) Kind() schema.StepKind { return schema.KindSocialPost }

func (h *SocialPostHandler) Description() string {
	return "Publish a post to a social network"
}

// Execute substitutes scalar context values into the content and publishes it.
func (h *SocialPostHandler) Execute(ctx context.Context, in StepInput) (any, error) {
	if h.social == nil {
		return nil, schema.NewError(schema.ErrCodeHandlerUnavailable, "no social publisher configured")
	}
	cfg, err := decodeConfig[schema.SocialPostConfig](in.Step)
	if err != nil {
		return nil, err
	}

	lookup := expressions.ScalarLookup(expressions.MapLookup(in.Vars.Snapshot()))
	content, err := h.opts.Templates.Render(cfg.Content, lookup)
	if err != nil {
		return nil, err
	}
	return h.social.Publish(ctx, content, cfg.MediaRef)
}
