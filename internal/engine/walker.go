package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/alexsaulik/promptfolio/internal/handlers"
	"github.com/alexsaulik/promptfolio/internal/logging"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// walker performs one depth-first, pre-order traversal of a graph.
type walker struct {
	engine *engineImpl
	graph  *Graph
	run    *activeRun

	mu      sync.Mutex // guards visited
	visited map[string]bool
}

// walk visits every entry step in definition order.
func (w *walker) walk(ctx context.Context) error {
	return w.visitAll(ctx, w.graph.Entries, BranchSequential)
}

func (w *walker) visitAll(ctx context.Context, ids []string, policy BranchPolicy) error {
	if policy == BranchConcurrent && len(ids) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		if n := w.engine.policies.MaxBranchConcurrency; n > 0 {
			g.SetLimit(n)
		}
		for _, id := range ids {
			g.Go(func() error { return w.visit(gctx, id) })
		}
		return g.Wait()
	}
	for _, id := range ids {
		if err := w.visit(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// claim marks id visited and reports whether this call got it first.
func (w *walker) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.visited[id] {
		return false
	}
	w.visited[id] = true
	return true
}

func (w *walker) visit(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return cancelledError(err, id)
	}
	// Diamond joins and guarded cycles reach a step more than once.
	if !w.claim(id) {
		return nil
	}

	e := w.engine
	step := w.graph.Steps[id]
	ctx = logging.WithStepID(ctx, id)
	w.setCurrent(id)

	if step.When != "" {
		allowed, err := e.guards.Allow(ctx, step.When, w.run.vars.Snapshot())
		if err != nil {
			ferr := stepError(step, err)
			w.record(ctx, step, schema.StepFailed, time.Now(), 0, ferr)
			return ferr
		}
		if !allowed {
			w.record(ctx, step, schema.StepSkipped, time.Now(), 0, nil)
			e.emit(ctx, w.run, id, schema.EventStepSkipped, map[string]any{"when": step.When})
			return nil
		}
	}

	result, err := w.execute(ctx, step)
	if err != nil {
		return err
	}

	next := w.graph.Successors[id]
	if step.Kind == schema.KindCondition {
		passed, _ := handlers.ConditionResult(result)
		gated := !passed && e.policies.Conditions == ConditionGating
		e.emit(ctx, w.run, id, schema.EventConditionEvaluated, map[string]any{"result": passed, "gated": gated})
		if gated {
			return nil
		}
	}
	return w.visitAll(ctx, next, e.policies.Branches)
}

// execute dispatches step to its handler and stores the result under the
// step ID.
func (w *walker) execute(ctx context.Context, step *schema.StepDefinition) (any, error) {
	e := w.engine
	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.kind", string(step.Kind)),
	))
	defer span.End()

	e.observer.OnStepStart(ctx, w.run.info, step)
	e.emit(ctx, w.run, step.ID, schema.EventStepStarted, nil)
	started := time.Now()

	handler, err := e.handlers.Get(step.Kind)
	var result any
	if err == nil {
		result, err = w.invoke(ctx, handler, step)
	}
	if err == nil {
		err = w.run.vars.Set(step.ID, result)
	}
	d := time.Since(started)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = cancelledError(ctxErr, step.ID)
		} else {
			err = stepError(step, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.record(ctx, step, schema.StepFailed, started, d, err)
		e.emit(ctx, w.run, step.ID, schema.EventStepFailed, map[string]any{"error": err.Error()})
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	w.record(ctx, step, schema.StepCompleted, started, d, nil)
	e.emit(ctx, w.run, step.ID, schema.EventStepCompleted, result)
	e.persist(ctx, w.run)
	return result, nil
}

// invoke runs the handler, turning a panic into an ordinary step error.
func (w *walker) invoke(ctx context.Context, h handlers.Handler, step *schema.StepDefinition) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.engine.logger.ErrorContext(ctx, "handler panicked",
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			result, err = nil, fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Execute(ctx, handlers.StepInput{Step: step, Vars: w.run.vars})
}

func (w *walker) setCurrent(id string) {
	w.run.mu.Lock()
	w.run.record.CurrentStepID = id
	w.run.mu.Unlock()
}

// record appends a trail entry and notifies the observer.
func (w *walker) record(ctx context.Context, step *schema.StepDefinition, outcome schema.StepOutcome, started time.Time, d time.Duration, err error) {
	tr := schema.StepTrace{
		StepID:    step.ID,
		Kind:      step.Kind,
		Outcome:   outcome,
		StartedAt: started.UTC(),
		Duration:  d,
	}
	if err != nil {
		tr.Error = err.Error()
	}
	w.run.mu.Lock()
	w.run.record.Trail = append(w.run.record.Trail, tr)
	w.run.mu.Unlock()

	w.engine.observer.OnStepCompleted(ctx, w.run.info, step, outcome, err, d)
}

// stepError wraps a handler failure with the failing step's identity.
func stepError(step *schema.StepDefinition, err error) error {
	return schema.NewErrorf(schema.ErrCodeStepFailed,
		"step %q (%s) failed: %s", step.DisplayName(), step.Kind, err.Error()).
		WithStep(step.ID).
		WithCause(err)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
