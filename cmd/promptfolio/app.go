package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alexsaulik/promptfolio/internal/engine"
	"github.com/alexsaulik/promptfolio/internal/expressions"
	"github.com/alexsaulik/promptfolio/internal/handlers"
	"github.com/alexsaulik/promptfolio/internal/logging"
	"github.com/alexsaulik/promptfolio/internal/metrics"
	"github.com/alexsaulik/promptfolio/internal/store"
	"github.com/alexsaulik/promptfolio/internal/telemetry"
	"github.com/alexsaulik/promptfolio/internal/validation"
	mcpserver "github.com/alexsaulik/promptfolio/pkg/mcp"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     store.Store
	runs      store.RunStore
	registry  *handlers.Registry
	engine    engine.Engine
	validator *validation.DefinitionValidator
	metrics   *metrics.Observer
	notifier  *mcpserver.RunNotifier

	closers []func(context.Context) error
}

type appOptions struct {
	// withMetrics registers the Prometheus observer.
	withMetrics bool
	// withNotifier registers the MCP run notifier.
	withNotifier bool
}

// newApp opens storage and builds the engine. Logs go to logOut; stdout is
// reserved for command output and the MCP stdio transport.
func newApp(ctx context.Context, cfg Config, logOut io.Writer, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logging.New(logOut, cfg.LogFormat, cfg.LogLevel)}

	policies, err := engine.ParsePolicies(cfg.Branches, cfg.Conditions, cfg.Cycles)
	if err != nil {
		return nil, err
	}
	mode, err := expressions.ParseTemplateMode(cfg.Templates)
	if err != nil {
		return nil, err
	}

	if err := a.openStores(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	hopts, err := handlerOptions(cfg, mode)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.registry = handlers.NewRegistry()
	if err := handlers.RegisterBuiltins(a.registry, handlers.DryRun(a.logger), hopts); err != nil {
		a.close(ctx)
		return nil, err
	}

	tp, shutdownTracing, err := telemetry.NewTracerProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	observers := []engine.Observer{engine.NewLoggingObserver(a.logger)}
	if opts.withMetrics {
		a.metrics = metrics.NewObserver()
		observers = append(observers, a.metrics)
	}
	if opts.withNotifier {
		a.notifier = mcpserver.NewRunNotifier(a.logger)
		observers = append(observers, a.notifier)
	}

	a.engine, err = engine.New(engine.Config{
		Definitions: a.store,
		Handlers:    a.registry,
		Runs:        a.runs,
		Events:      a.store,
		Policies:    policies,
		PoolSize:    cfg.PoolSize,
		Observer:    engine.NewCompositeObserver(observers...),
		Tracer:      telemetry.Tracer(tp, version),
		Logger:      a.logger,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.WatchPool(a.engine.PoolStats)
	}

	a.validator, err = validation.NewDefinitionValidator(
		validation.WithHandlers(a.registry),
		validation.WithCyclePolicy(policies.Cycles),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// handlerOptions maps the template, retry and breaker settings onto the
// built-in handlers.
func handlerOptions(cfg Config, mode expressions.TemplateMode) (handlers.Options, error) {
	switch cfg.RetryBackoff {
	case "", handlers.BackoffConstant, handlers.BackoffLinear, handlers.BackoffExponential:
	default:
		return handlers.Options{}, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown retry_backoff %q (want %s, %s or %s)", cfg.RetryBackoff,
			handlers.BackoffConstant, handlers.BackoffLinear, handlers.BackoffExponential)
	}
	return handlers.Options{
		Templates: expressions.NewRenderer(mode),
		Retry: handlers.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			Backoff:     cfg.RetryBackoff,
			Delay:       cfg.RetryDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Breaker: handlers.BreakerConfig{
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.BreakerCooldown,
			HalfOpenMax:      cfg.BreakerHalfOpenMax,
		},
	}, nil
}

// openStores opens the definition/event store and picks the run store.
func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.RunStore {
	case runStoreMemory:
		ms := store.NewMemoryStore()
		a.store, a.runs = ms, ms
		return nil
	case runStoreLibSQL, runStoreRedis:
	default:
		return fmt.Errorf("unknown run_store %q (want %s, %s or %s)", a.cfg.RunStore, runStoreLibSQL, runStoreRedis, runStoreMemory)
	}

	if err := ensureDBDir(a.cfg.DBPath); err != nil {
		return err
	}
	ls, err := store.NewLibSQLStore(a.cfg.DBPath)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return ls.Close() })
	if err := ls.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.store, a.runs = ls, ls

	if a.cfg.RunStore == runStoreRedis {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", a.cfg.RedisAddr, err)
		}
		a.runs = store.NewRedisRunStore(client, store.WithPrefix(a.cfg.RedisPrefix))
	}
	return nil
}

// ensureDBDir creates the parent directory of a local file database.
func ensureDBDir(dbPath string) error {
	path, ok := strings.CutPrefix(dbPath, "file:")
	if !ok || path == "" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o700)
}

// close waits for in-flight runs, then releases resources in reverse order.
func (a *app) close(ctx context.Context) {
	if a.engine != nil {
		a.engine.Shutdown()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", "error", err)
	}
}
