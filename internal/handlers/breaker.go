package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing, rejecting calls
	BreakerHalfOpen                     // probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker decorator.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a probe.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe calls allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// WithBreaker wraps h with a circuit breaker shared by every run that uses
// the handler. While open, steps of h's kind fail fast with
// HANDLER_UNAVAILABLE instead of calling the collaborator.
func WithBreaker(h Handler, cfg BreakerConfig) Handler {
	if cfg.FailureThreshold <= 0 {
		return h
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &breakerHandler{Handler: h, cfg: cfg, now: time.Now}
}

type breakerHandler struct {
	Handler
	cfg BreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probes      int
}

func (b *breakerHandler) Execute(ctx context.Context, in StepInput) (any, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}
	out, err := b.Handler.Execute(ctx, in)
	switch {
	case err == nil:
		b.success()
	case IsRetryable(err):
		// Only collaborator-side failures count against the circuit.
		b.failure()
	}
	return out, err
}

// State reports the current state, applying the cooldown transition.
func (b *breakerHandler) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		b.state = BreakerHalfOpen
		b.probes = 0
	}
	return b.state
}

func (b *breakerHandler) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			b.probes = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeHandlerUnavailable,
			"%s handler unavailable: circuit open after %d consecutive failures", b.Kind(), b.failures).
			WithDetails(map[string]any{
				"kind":                 string(b.Kind()),
				"consecutive_failures": b.failures,
				"cooldown_remaining":   (b.cfg.Cooldown - b.now().Sub(b.lastFailure)).String(),
			})

	case BreakerHalfOpen:
		if b.probes >= b.cfg.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeHandlerUnavailable,
				"%s handler unavailable: recovery probe in flight", b.Kind())
		}
		b.probes++
	}
	return nil
}

func (b *breakerHandler) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probes = 0
	b.state = BreakerClosed
}

func (b *breakerHandler) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
	}
}
