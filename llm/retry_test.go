package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          4 * time.Millisecond,
		MaxTimeout:        time.Second,
		BackoffMultiplier: 2.0,
		TimeoutMultiplier: 1.5,
	}
}

func TestDoWithRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	err := DoWithRetry(context.Background(), testPolicy(), func(attempt int) error {
		attempts++
		return &StatusError{Status: 503, Body: "unavailable"}
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts, "expected MaxRetries+1 attempts")
}

func TestDoWithRetryStopsOnTerminalError(t *testing.T) {
	attempts := 0
	err := DoWithRetry(context.Background(), testPolicy(), func(attempt int) error {
		attempts++
		return &StatusError{Status: 400, Body: "bad request"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := DoWithRetry(context.Background(), testPolicy(), func(attempt int) error {
		attempts++
		if attempts < 3 {
			return &StatusError{Status: 500}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DoWithRetry(ctx, testPolicy(), func(attempt int) error {
		return &StatusError{Status: 500}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextDelayIsCapped(t *testing.T) {
	p := testPolicy()
	delay := p.InitialDelay
	var prev time.Duration
	for i := 0; i < 10; i++ {
		assert.GreaterOrEqual(t, delay, prev, "delays must be non-decreasing")
		assert.LessOrEqual(t, delay, p.MaxDelay)
		prev = delay
		delay = p.NextDelay(delay)
	}
	assert.Equal(t, p.MaxDelay, delay)
}

func TestAttemptTimeoutGrowsAndCaps(t *testing.T) {
	p := DefaultRetryPolicy()
	base := 10 * time.Second
	assert.Equal(t, base, p.AttemptTimeout(base, 0))
	assert.Equal(t, 15*time.Second, p.AttemptTimeout(base, 1))
	assert.Equal(t, p.MaxTimeout, p.AttemptTimeout(base, 20))
}

func TestRetryableClassification(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(&StatusError{Status: 500}))
	assert.True(t, Retryable(&StatusError{Status: 503}))
	assert.False(t, Retryable(&StatusError{Status: 404}))
	assert.False(t, Retryable(errors.New("json: cannot unmarshal")))
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.BackoffMultiplier)
	assert.Equal(t, 1.5, p.TimeoutMultiplier)
}
