package handlers

import (
	"context"
	"time"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// DelayHandler suspends the run for a fixed duration.
type DelayHandler struct{}

// NewDelayHandler creates the delay handler.
func NewDelayHandler() *DelayHandler { return &DelayHandler{} }

func (h *DelayHandler) Kind() schema.StepKind { return schema.KindDelay }

func (h *DelayHandler) Description() string {
	return "Wait for a fixed number of milliseconds"
}

// Execute waits on a timer and returns early with the context error when the
// run is cancelled.
func (h *DelayHandler) Execute(ctx context.Context, in StepInput) (any, error) {
	cfg, err := decodeConfig[schema.DelayConfig](in.Step)
	if err != nil {
		return nil, err
	}
	if cfg.DurationMillis < 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"durationMillis must be >= 0, got %d", cfg.DurationMillis)
	}

	if cfg.DurationMillis > 0 {
		timer := time.NewTimer(time.Duration(cfg.DurationMillis) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	return map[string]any{"delayedMillis": cfg.DurationMillis}, nil
}
