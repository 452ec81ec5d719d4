package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// Backoff strategies for RetryPolicy.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy configures the opt-in retry decorator.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	Backoff     string        // constant | linear | exponential (default: constant)
	Delay       time.Duration // base delay
	MaxDelay    time.Duration // cap, 0 = none
}

// IsRetryable classifies whether a handler error is worth another attempt.
// Cancellation, validation and unresolved-variable errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch schema.CodeOf(err) {
	case schema.ErrCodeValidation, schema.ErrCodeUnresolvedVariable,
		schema.ErrCodeHandlerUnavailable, schema.ErrCodeCancelled:
		return false
	}
	return true
}

// ComputeBackoff calculates the delay before retry number attempt (0-based).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		delay = policy.Delay
		for i := 0; i < attempt; i++ {
			delay *= 2
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				break
			}
		}
	case BackoffLinear:
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if ctx is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithRetry wraps h so that retryable failures are attempted again per
// policy. The engine never retries on its own.
func WithRetry(h Handler, policy RetryPolicy) Handler {
	if policy.MaxAttempts <= 1 {
		return h
	}
	return &retryingHandler{Handler: h, policy: policy}
}

type retryingHandler struct {
	Handler
	policy RetryPolicy
}

func (r *retryingHandler) Execute(ctx context.Context, in StepInput) (any, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := WaitForBackoff(ctx, ComputeBackoff(r.policy, attempt-1)); err != nil {
				return nil, err
			}
		}
		out, err := r.Handler.Execute(ctx, in)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
		"gave up after %d attempts: %s", r.policy.MaxAttempts, lastErr.Error()).WithCause(lastErr)
}
