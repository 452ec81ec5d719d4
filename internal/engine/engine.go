package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/alexsaulik/promptfolio/internal/expressions"
	"github.com/alexsaulik/promptfolio/internal/handlers"
	"github.com/alexsaulik/promptfolio/internal/logging"
	"github.com/alexsaulik/promptfolio/internal/store"
	"github.com/alexsaulik/promptfolio/internal/vars"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// Engine runs workflow definitions.
type Engine interface {
	// StartRun executes a workflow to completion and returns its record.
	// Load-time problems are returned as the error and leave no record;
	// failures during the run are captured in the returned record.
	StartRun(ctx context.Context, workflowID string, seed map[string]any) (*schema.WorkflowExecution, error)

	// Submit validates like StartRun, then runs in the background. The
	// caller polls GetRun with the returned execution ID.
	Submit(ctx context.Context, workflowID string, seed map[string]any) (string, error)

	// GetRun returns a snapshot of a run, live if it is still in flight.
	GetRun(ctx context.Context, executionID string) (*schema.WorkflowExecution, error)

	// CancelRun asks an in-flight run to stop at the next step boundary.
	CancelRun(ctx context.Context, executionID string) error

	// ListRuns lists stored execution records.
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.WorkflowExecution, error)

	// PoolStats reports queued and active background runs.
	PoolStats() PoolStats

	// Shutdown cancels nothing; it stops accepting submissions and waits
	// for background runs to finish.
	Shutdown()
}

// DefaultPoolSize is the default number of concurrent background runs.
const DefaultPoolSize = 10

// Config holds the engine's collaborators and policies.
type Config struct {
	Definitions store.DefinitionStore    // required
	Handlers    handlers.HandlerRegistry // required
	Runs        store.RunStore           // nil keeps records in memory
	Events      EventAppender            // nil disables the event log

	Policies Policies
	PoolSize int

	Observer Observer
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

type engineImpl struct {
	defs     store.DefinitionStore
	handlers handlers.HandlerRegistry
	runs     store.RunStore
	events   EventAppender
	policies Policies
	guards   *expressions.GuardEngine
	fsm      *RunFSM
	pool     *runPool
	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger

	// mu guards running.
	mu      sync.Mutex
	running map[string]*activeRun
}

// activeRun is the live state of one in-flight execution.
type activeRun struct {
	mu     sync.Mutex // guards record
	record *schema.WorkflowExecution
	vars   *vars.Context
	cancel context.CancelFunc
	info   RunInfo
}

// New creates an Engine.
func New(cfg Config) (Engine, error) {
	if cfg.Definitions == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine needs a definition store")
	}
	if cfg.Handlers == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine needs a handler registry")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Runs == nil {
		cfg.Runs = store.NewMemoryStore()
	}
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("promptfolio/engine")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	guards, err := expressions.NewGuardEngine()
	if err != nil {
		return nil, err
	}

	e := &engineImpl{
		defs:     cfg.Definitions,
		handlers: cfg.Handlers,
		runs:     cfg.Runs,
		events:   cfg.Events,
		policies: cfg.Policies.withDefaults(),
		guards:   guards,
		fsm:      NewRunFSM(cfg.Events),
		pool:     newRunPool(cfg.PoolSize),
		observer: cfg.Observer,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger,
		running:  make(map[string]*activeRun),
	}
	e.pool.onPanic = func(executionID string, r any) {
		e.logger.Error("background run panicked", slog.String("execution_id", executionID), slog.Any("panic", r))
	}
	return e, nil
}

// StartRun loads, validates and executes a workflow synchronously.
func (e *engineImpl) StartRun(ctx context.Context, workflowID string, seed map[string]any) (*schema.WorkflowExecution, error) {
	def, graph, err := e.prepare(ctx, workflowID, seed)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ar := e.register(def, seed, cancel)
	return e.execute(runCtx, ar, graph), nil
}

// Submit validates synchronously and executes on the worker pool. The run
// is detached from ctx's cancellation but keeps its values.
func (e *engineImpl) Submit(ctx context.Context, workflowID string, seed map[string]any) (string, error) {
	def, graph, err := e.prepare(ctx, workflowID, seed)
	if err != nil {
		return "", err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ar := e.register(def, seed, cancel)
	id := ar.info.ExecutionID

	// Persist the pending record so GetRun works from any process.
	e.persist(ctx, ar)

	err = e.pool.submit(ctx, id, func() bool {
		defer cancel()
		return e.execute(runCtx, ar, graph).Status == schema.ExecutionFailed
	})
	if err != nil {
		cancel()
		e.reject(ctx, ar, err)
		return "", err
	}
	return id, nil
}

// reject fails a submitted run that never got a pool slot, so its pending
// record does not outlive the submission.
func (e *engineImpl) reject(ctx context.Context, ar *activeRun, cause error) {
	defer e.unregister(ar.info.ExecutionID)
	ctx = logging.WithRun(context.WithoutCancel(ctx), ar.info.WorkflowID, ar.info.ExecutionID)

	err := cause
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		err = cancelledError(cause, "")
	}
	completedAt := time.Now().UTC()
	ar.mu.Lock()
	ar.record.Errors = append(ar.record.Errors, err.Error())
	ar.record.CompletedAt = &completedAt
	ar.mu.Unlock()

	if terr := e.transition(ctx, ar, schema.ExecutionFailed); terr != nil {
		e.logger.ErrorContext(ctx, "failed transition rejected", slog.Any("error", terr))
	}
	e.persist(ctx, ar)
	e.logger.WarnContext(ctx, "submission rejected", slog.Any("error", err))
}

// GetRun prefers the live record of an in-flight run over the stored one.
func (e *engineImpl) GetRun(ctx context.Context, executionID string) (*schema.WorkflowExecution, error) {
	e.mu.Lock()
	ar, ok := e.running[executionID]
	e.mu.Unlock()
	if ok {
		return ar.snapshot(), nil
	}
	return e.runs.GetRun(ctx, executionID)
}

// CancelRun cancels an in-flight run. The run records the cancellation
// itself when it next reaches a step boundary or a cancellable wait.
func (e *engineImpl) CancelRun(ctx context.Context, executionID string) error {
	e.mu.Lock()
	ar, ok := e.running[executionID]
	e.mu.Unlock()
	if ok {
		e.logger.InfoContext(logging.WithRun(ctx, ar.info.WorkflowID, executionID), "cancelling run")
		ar.cancel()
		return nil
	}

	run, err := e.runs.GetRun(ctx, executionID)
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeConflict,
		"execution %s already finished with status %s", executionID, run.Status).
		WithDetails(map[string]any{"execution_id": executionID, "status": string(run.Status)})
}

func (e *engineImpl) ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.WorkflowExecution, error) {
	return e.runs.ListRuns(ctx, filter)
}

func (e *engineImpl) PoolStats() PoolStats {
	return e.pool.stats()
}

func (e *engineImpl) Shutdown() {
	e.pool.shutdown()
}

// prepare resolves everything that can fail before a run exists.
func (e *engineImpl) prepare(ctx context.Context, workflowID string, seed map[string]any) (*schema.WorkflowDefinition, *Graph, error) {
	def, err := e.defs.LoadDefinition(ctx, workflowID)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			return nil, nil, schema.NewErrorf(schema.ErrCodeDefinitionNotFound,
				"workflow definition %q not found", workflowID).WithCause(err)
		}
		return nil, nil, schema.NewErrorf(schema.ErrCodeStore,
			"load workflow definition %q: %s", workflowID, err.Error()).WithCause(err)
	}

	graph, err := ParseGraph(def, GraphOptions{Cycles: e.policies.Cycles, Guards: e.guards})
	if err != nil {
		return nil, nil, err
	}

	for _, kind := range graph.Kinds() {
		if _, err := e.handlers.Get(kind); err != nil {
			return nil, nil, err
		}
	}

	// Step results are write-once keys, so a seed may not claim a step ID.
	for key := range seed {
		if graph.Has(key) {
			return nil, nil, schema.NewErrorf(schema.ErrCodeValidation,
				"seed variable %q collides with a step ID", key).WithStep(key)
		}
	}
	return def, graph, nil
}

func (e *engineImpl) register(def *schema.WorkflowDefinition, seed map[string]any, cancel context.CancelFunc) *activeRun {
	id := uuid.New().String()
	ar := &activeRun{
		record: &schema.WorkflowExecution{
			ID:         id,
			WorkflowID: def.ID,
			Status:     schema.ExecutionPending,
			StartedAt:  time.Now().UTC(),
		},
		vars:   vars.New(seed),
		cancel: cancel,
		info:   RunInfo{ExecutionID: id, WorkflowID: def.ID, WorkflowName: def.Name},
	}
	ar.record.Context = ar.vars.Snapshot()

	e.mu.Lock()
	e.running[id] = ar
	e.mu.Unlock()
	return ar
}

func (e *engineImpl) unregister(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

// execute drives one run from pending to a terminal state and returns the
// final record. It never returns an error: failures end up in the record.
func (e *engineImpl) execute(ctx context.Context, ar *activeRun, graph *Graph) (run *schema.WorkflowExecution) {
	defer e.unregister(ar.info.ExecutionID)

	ctx = logging.WithRun(ctx, ar.info.WorkflowID, ar.info.ExecutionID)
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", ar.info.WorkflowID),
		attribute.String("execution.id", ar.info.ExecutionID),
	))
	defer span.End()

	started := time.Now()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e.logger.ErrorContext(ctx, "run panicked", slog.Any("panic", r))
		if !ar.status().Terminal() {
			e.finishFailed(ctx, ar, schema.NewErrorf(schema.ErrCodeStepFailed,
				"run panicked: %v", r).WithStep(ar.currentStep()), started)
		}
		span.SetStatus(codes.Error, "panic")
		run = ar.snapshot()
	}()
	e.observer.OnRunStart(ctx, ar.info)
	if err := e.transition(ctx, ar, schema.ExecutionRunning); err != nil {
		e.finishFailed(ctx, ar, err, started)
		span.SetStatus(codes.Error, err.Error())
		return ar.snapshot()
	}
	e.persist(ctx, ar)

	w := &walker{engine: e, graph: graph, run: ar, visited: make(map[string]bool, len(graph.Steps))}
	if err := w.walk(ctx); err != nil {
		e.finishFailed(ctx, ar, err, started)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ar.snapshot()
	}

	completedAt := time.Now().UTC()
	ar.mu.Lock()
	ar.record.CompletedAt = &completedAt
	ar.mu.Unlock()
	if err := e.transition(ctx, ar, schema.ExecutionCompleted); err != nil {
		e.finishFailed(ctx, ar, err, started)
		span.SetStatus(codes.Error, err.Error())
		return ar.snapshot()
	}
	e.persist(ctx, ar)

	if err := e.defs.RecordRun(ctx, ar.info.WorkflowID, completedAt); err != nil {
		e.logger.WarnContext(ctx, "record run on definition failed", slog.Any("error", err))
	}
	e.observer.OnRunCompleted(ctx, ar.info, time.Since(started))
	span.SetStatus(codes.Ok, "")
	return ar.snapshot()
}

// finishFailed moves the run to failed. Cancellation is recorded with a
// CANCELLED error and an extra run_cancelled event.
func (e *engineImpl) finishFailed(ctx context.Context, ar *activeRun, err error, started time.Time) {
	if ctxErr := ctx.Err(); ctxErr != nil && schema.CodeOf(err) != schema.ErrCodeCancelled {
		err = cancelledError(ctxErr, ar.currentStep())
	}
	// Terminal bookkeeping must not be cut short by the run's own cancellation.
	ctx = context.WithoutCancel(ctx)

	if schema.CodeOf(err) == schema.ErrCodeCancelled {
		e.emit(ctx, ar, "", schema.EventRunCancelled, map[string]any{"error": err.Error()})
	}

	completedAt := time.Now().UTC()
	ar.mu.Lock()
	ar.record.Errors = append(ar.record.Errors, err.Error())
	ar.record.CompletedAt = &completedAt
	ar.mu.Unlock()

	if terr := e.transition(ctx, ar, schema.ExecutionFailed); terr != nil {
		e.logger.ErrorContext(ctx, "failed transition rejected", slog.Any("error", terr))
		ar.mu.Lock()
		ar.record.Status = schema.ExecutionFailed
		ar.mu.Unlock()
	}
	e.persist(ctx, ar)
	e.observer.OnRunFailed(ctx, ar.info, err, time.Since(started))
}

func (e *engineImpl) transition(ctx context.Context, ar *activeRun, to schema.ExecutionStatus) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if err := e.fsm.Transition(ctx, ar.record, ar.record.Status, to); err != nil {
		return err
	}
	ar.record.Status = to
	return nil
}

// persist writes a snapshot of the run to the run store. Write failures are
// logged; the in-memory record stays authoritative until the run ends.
func (e *engineImpl) persist(ctx context.Context, ar *activeRun) {
	if err := e.runs.SaveRun(context.WithoutCancel(ctx), ar.snapshot()); err != nil {
		e.logger.WarnContext(ctx, "persist execution record failed", slog.Any("error", err))
	}
}

func (e *engineImpl) emit(ctx context.Context, ar *activeRun, stepID, eventType string, payload any) {
	if e.events == nil {
		return
	}
	ev := &store.Event{
		ExecutionID: ar.info.ExecutionID,
		WorkflowID:  ar.info.WorkflowID,
		StepID:      stepID,
		Type:        eventType,
	}
	if payload != nil {
		raw, err := marshalPayload(payload)
		if err != nil {
			e.logger.WarnContext(ctx, "encode event payload failed", slog.String("event", eventType), slog.Any("error", err))
		}
		ev.Payload = raw
	}
	if err := e.events.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.WarnContext(ctx, "append event failed", slog.String("event", eventType), slog.Any("error", err))
	}
}

// snapshot returns a copy of the record with the current variable context.
func (ar *activeRun) snapshot() *schema.WorkflowExecution {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	c := ar.record.Clone()
	c.Context = ar.vars.Snapshot()
	return c
}

func (ar *activeRun) status() schema.ExecutionStatus {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.record.Status
}

func (ar *activeRun) currentStep() string {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.record.CurrentStepID
}

func cancelledError(cause error, stepID string) error {
	if schema.CodeOf(cause) == schema.ErrCodeCancelled {
		return cause
	}
	msg := "run cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "run deadline exceeded"
	}
	fe := schema.NewError(schema.ErrCodeCancelled, msg).WithCause(cause)
	if stepID != "" {
		fe = fe.WithStep(stepID)
	}
	return fe
}
