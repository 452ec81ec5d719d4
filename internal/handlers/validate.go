package handlers

import (
	"strings"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// ValidateConfig decodes a step's config and checks the fields its kind
// requires. It runs at load time, before any step executes.
func ValidateConfig(step *schema.StepDefinition) error {
	switch step.Kind {
	case schema.KindAIGenerate:
		cfg, err := decodeConfig[schema.AIGenerateConfig](step)
		if err != nil {
			return err
		}
		if strings.TrimSpace(cfg.Prompt) == "" {
			return invalid(step, "prompt is required")
		}
		for placeholder, key := range cfg.Variables {
			if placeholder == "" || key == "" {
				return invalid(step, "variables entries need a placeholder and a context key")
			}
		}

	case schema.KindSocialPost:
		cfg, err := decodeConfig[schema.SocialPostConfig](step)
		if err != nil {
			return err
		}
		if strings.TrimSpace(cfg.Content) == "" {
			return invalid(step, "content is required")
		}

	case schema.KindDocumentCreate:
		cfg, err := decodeConfig[schema.DocumentCreateConfig](step)
		if err != nil {
			return err
		}
		if cfg.ContainerRef == "" {
			return invalid(step, "containerRef is required")
		}
		if cfg.Title == "" {
			return invalid(step, "title is required")
		}
		if _, ok := pageBuilders[cfg.PageKind]; cfg.PageKind != "" && !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"unknown pageKind %q (want one of %s)", cfg.PageKind, strings.Join(PageKinds(), ", ")).
				WithStep(step.ID)
		}

	case schema.KindEmailSend:
		cfg, err := decodeConfig[schema.EmailSendConfig](step)
		if err != nil {
			return err
		}
		if cfg.To == "" {
			return invalid(step, "to is required")
		}
		if cfg.TemplateID == "" {
			return invalid(step, "templateId is required")
		}

	case schema.KindDelay:
		cfg, err := decodeConfig[schema.DelayConfig](step)
		if err != nil {
			return err
		}
		if cfg.DurationMillis < 0 {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"durationMillis must be >= 0, got %d", cfg.DurationMillis).WithStep(step.ID)
		}

	case schema.KindCondition:
		cfg, err := decodeConfig[schema.ConditionConfig](step)
		if err != nil {
			return err
		}
		if cfg.Variable == "" {
			return invalid(step, "variable is required")
		}
		if !cfg.Operator.Valid() {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"unknown operator %q", cfg.Operator).WithStep(step.ID)
		}

	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown step kind %q", step.Kind).WithStep(step.ID)
	}
	return nil
}

func invalid(step *schema.StepDefinition, msg string) error {
	return schema.NewError(schema.ErrCodeValidation, msg).WithStep(step.ID)
}
