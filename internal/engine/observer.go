package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// RunInfo identifies the run an observer callback is about.
type RunInfo struct {
	ExecutionID  string
	WorkflowID   string
	WorkflowName string
}

// Observer receives lifecycle callbacks from the engine for logging and
// metrics. Implementations must be fast and safe for concurrent use.
type Observer interface {
	OnRunStart(ctx context.Context, run RunInfo)
	OnRunCompleted(ctx context.Context, run RunInfo, d time.Duration)
	OnRunFailed(ctx context.Context, run RunInfo, err error, d time.Duration)

	// OnStepStart is called before the step's handler is invoked.
	OnStepStart(ctx context.Context, run RunInfo, step *schema.StepDefinition)
	// OnStepCompleted is called once per visited step, err is non-nil
	// only when outcome is failed.
	OnStepCompleted(ctx context.Context, run RunInfo, step *schema.StepDefinition, outcome schema.StepOutcome, err error, d time.Duration)
}

// NoopObserver does nothing. It is the default.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(context.Context, RunInfo)                          {}
func (NoopObserver) OnRunCompleted(context.Context, RunInfo, time.Duration)       {}
func (NoopObserver) OnRunFailed(context.Context, RunInfo, error, time.Duration)   {}
func (NoopObserver) OnStepStart(context.Context, RunInfo, *schema.StepDefinition) {}

func (NoopObserver) OnStepCompleted(context.Context, RunInfo, *schema.StepDefinition, schema.StepOutcome, error, time.Duration) {
}

// CompositeObserver fans callbacks out to several observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver returns an Observer forwarding to every non-nil
// observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	switch len(filtered) {
	case 0:
		return NoopObserver{}
	case 1:
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run RunInfo) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run RunInfo, d time.Duration) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run, d)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run RunInfo, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err, d)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, run RunInfo, step *schema.StepDefinition) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, run, step)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run RunInfo, step *schema.StepDefinition, outcome schema.StepOutcome, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, step, outcome, err, d)
	}
}

// LoggingObserver writes lifecycle events with log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates a LoggingObserver. A nil logger uses slog.Default().
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run RunInfo) {
	o.Logger.InfoContext(ctx, "run started",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("execution_id", run.ExecutionID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run RunInfo, d time.Duration) {
	o.Logger.InfoContext(ctx, "run completed",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("execution_id", run.ExecutionID),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run RunInfo, err error, d time.Duration) {
	o.Logger.ErrorContext(ctx, "run failed",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("execution_id", run.ExecutionID),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, run RunInfo, step *schema.StepDefinition) {
	o.Logger.DebugContext(ctx, "step started",
		slog.String("execution_id", run.ExecutionID),
		slog.String("step_id", step.ID),
		slog.String("kind", string(step.Kind)),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run RunInfo, step *schema.StepDefinition, outcome schema.StepOutcome, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step finished",
		slog.String("execution_id", run.ExecutionID),
		slog.String("step_id", step.ID),
		slog.String("kind", string(step.Kind)),
		slog.String("outcome", string(outcome)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}
