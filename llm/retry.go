package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// RetryPolicy controls how providers absorb transient transport failures.
// Attempts total MaxRetries+1; the inter-attempt delay doubles (by
// BackoffMultiplier) up to MaxDelay, and the per-attempt timeout grows by
// TimeoutMultiplier per attempt up to MaxTimeout.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	MaxTimeout        time.Duration
	BackoffMultiplier float64
	TimeoutMultiplier float64
}

// DefaultRetryPolicy returns the standard resilience settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		MaxTimeout:        2 * time.Minute,
		BackoffMultiplier: 2.0,
		TimeoutMultiplier: 1.5,
	}
}

// NextDelay returns the delay to apply after the current one, capped at MaxDelay.
func (p RetryPolicy) NextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.BackoffMultiplier)
	if p.MaxDelay > 0 && next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}

// AttemptTimeout returns the per-attempt timeout for the given zero-based
// attempt index, growing geometrically from base and capped at MaxTimeout.
func (p RetryPolicy) AttemptTimeout(base time.Duration, attempt int) time.Duration {
	timeout := base
	for i := 0; i < attempt; i++ {
		timeout = time.Duration(float64(timeout) * p.TimeoutMultiplier)
	}
	if p.MaxTimeout > 0 && timeout > p.MaxTimeout {
		timeout = p.MaxTimeout
	}
	return timeout
}

// StatusError carries an HTTP status from a backend so the retry loop can
// classify it: 5xx retries, 4xx fails immediately.
type StatusError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}

// Retryable reports whether e warrants another attempt.
func (e *StatusError) Retryable() bool { return e.Status >= 500 }

// Retryable classifies an error as transient (timeout, connection failure,
// 5xx) or terminal (4xx, malformed request, cancellation).
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// url.Error wrapping a transport failure unwraps to net.Error or syscall
	// errors above; anything else (encoding, protocol misuse) is terminal.
	return false
}

// DoWithRetry runs op up to MaxRetries+1 times, sleeping with exponential
// backoff between retryable failures. The zero-based attempt index is passed
// to op so callers can grow per-attempt timeouts via AttemptTimeout. Returns
// the last error once the budget is exhausted or a terminal error occurs.
func DoWithRetry(ctx context.Context, p RetryPolicy, op func(attempt int) error) error {
	delay := p.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) || attempt == p.MaxRetries {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = p.NextDelay(delay)
	}
	return lastErr
}
