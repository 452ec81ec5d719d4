package handlers

import (
	"context"

	"github.com/alexsaulik/promptfolio/internal/expressions"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// EmailSendHandler sends a templated email.
type EmailSendHandler struct {
	email EmailSender
	opts  Options
}

// NewEmailSendHandler creates the email_send handler.
func NewEmailSendHandler(email EmailSender, opts Options) *EmailSendHandler {
	return &EmailSendHandler{email: email, opts: opts.withDefaults()}
}

func (h *EmailSendHandler) Kind() schema.StepKind { return schema.KindEmailSend }

func (h *EmailSendHandler) Description() string {
	return "Send a templated email"
}

// Execute substitutes the context into to and subject. The template
// variables are passed through unchanged.
func (h *EmailSendHandler) Execute(ctx context.Context, in StepInput) (any, error) {
	if h.email == nil {
		return nil, schema.NewError(schema.ErrCodeHandlerUnavailable, "no email sender configured")
	}
	cfg, err := decodeConfig[schema.EmailSendConfig](in.Step)
	if err != nil {
		return nil, err
	}

	lookup := expressions.MapLookup(in.Vars.Snapshot())
	to, err := h.opts.Templates.Render(cfg.To, lookup)
	if err != nil {
		return nil, err
	}
	subject, err := h.opts.Templates.Render(cfg.Subject, lookup)
	if err != nil {
		return nil, err
	}
	return h.email.SendTemplated(ctx, cfg.TemplateID, to, subject, cfg.Variables)
}
