package handlers

import (
	"context"
	"sort"

	"github.com/alexsaulik/promptfolio/internal/expressions"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// DefaultModel is used when an ai_generate step names no model.
const DefaultModel = "gpt-4o-mini"

// AIGenerateHandler renders a prompt from the context and asks the text
// generator for content.
type AIGenerateHandler struct {
	text TextGenerator
	opts Options
}

// NewAIGenerateHandler creates the ai_generate handler.
func NewAIGenerateHandler(text TextGenerator, opts Options) *AIGenerateHandler {
	return &AIGenerateHandler{text: text, opts: opts.withDefaults()}
}

func (h *AIGenerateHandler) Kind() schema.StepKind { return schema.KindAIGenerate }

func (h *AIGenerateHandler) Description() string {
	return "Generate text from a templated prompt"
}

// Execute resolves the configured placeholder variables, then substitutes
// them and every top-level context key into the prompt.
func (h *AIGenerateHandler) Execute(ctx context.Context, in StepInput) (any, error) {
	if h.text == nil {
		return nil, schema.NewError(schema.ErrCodeHandlerUnavailable, "no text generator configured")
	}
	cfg, err := decodeConfig[schema.AIGenerateConfig](in.Step)
	if err != nil {
		return nil, err
	}

	snapshot := in.Vars.Snapshot()
	placeholders := make([]string, 0, len(cfg.Variables))
	for p := range cfg.Variables {
		placeholders = append(placeholders, p)
	}
	sort.Strings(placeholders)

	resolved := make(map[string]any, len(placeholders))
	for _, p := range placeholders {
		v, ok, err := h.opts.resolveKey(ctx, cfg.Variables[p], snapshot)
		if err != nil {
			return nil, err
		}
		if ok {
			resolved[p] = v
		}
	}

	prompt, err := h.opts.Templates.Render(cfg.Prompt,
		expressions.Chain(expressions.MapLookup(resolved), expressions.MapLookup(snapshot)))
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	content, err := h.text.Generate(ctx, prompt, model)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content": content,
		"model":   model,
		"prompt":  prompt,
	}, nil
}
