package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeValidation, "bad")))
	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeUnresolvedVariable, "x")))
	assert.True(t, IsRetryable(errors.New("503 service unavailable")))
}

func TestComputeBackoff(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, time.Duration(0), ComputeBackoff(RetryPolicy{}, 3))
	assert.Equal(t, base, ComputeBackoff(RetryPolicy{Delay: base}, 4))
	assert.Equal(t, 3*base, ComputeBackoff(RetryPolicy{Delay: base, Backoff: BackoffLinear}, 2))
	assert.Equal(t, 8*base, ComputeBackoff(RetryPolicy{Delay: base, Backoff: BackoffExponential}, 3))
	assert.Equal(t, 250*time.Millisecond,
		ComputeBackoff(RetryPolicy{Delay: base, Backoff: BackoffExponential, MaxDelay: 250 * time.Millisecond}, 10))
}

func TestWaitForBackoff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForBackoff(ctx, time.Hour), context.Canceled)
}

type flakyHandler struct {
	stubHandler
	failures int
	calls    int
	err      error
}

func (f *flakyHandler) Execute(_ context.Context, _ StepInput) (any, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return "ok", nil
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	inner := &flakyHandler{stubHandler: stubHandler{kind: schema.KindAIGenerate}, failures: 2, err: errors.New("timeout talking to model")}
	h := WithRetry(inner, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})

	out, err := h.Execute(context.Background(), StepInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, schema.KindAIGenerate, h.Kind())
}

func TestWithRetry_GivesUp(t *testing.T) {
	cause := errors.New("still down")
	inner := &flakyHandler{failures: 10, err: cause}
	h := WithRetry(inner, RetryPolicy{MaxAttempts: 2})

	_, err := h.Execute(context.Background(), StepInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, inner.calls)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	inner := &flakyHandler{failures: 10, err: schema.NewError(schema.ErrCodeValidation, "bad config")}
	h := WithRetry(inner, RetryPolicy{MaxAttempts: 5})

	_, err := h.Execute(context.Background(), StepInput{})
	assert.ErrorIs(t, err, schema.ErrValidation)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRetry_SingleAttemptUnwrapped(t *testing.T) {
	inner := &stubHandler{kind: schema.KindDelay}
	assert.Same(t, Handler(inner), WithRetry(inner, RetryPolicy{MaxAttempts: 1}))
}
