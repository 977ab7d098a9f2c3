// Package retry implements bounded retries with pluggable backoff,
// grounded on goa-ai's runtime/a2a/retry.Config/Do shape. The teacher only
// implements EXPONENTIAL (+ an always-on jitter fraction); this package
// adds CONSTANT and LINEAR following the same Config/Do shape, and models
// JITTER as its own Strategy value — rather than the teacher's always-on
// Jitter float64 field — that wraps exponential backoff with
// uniform(0.5,1.5), per spec.md §4.5. Retryable/non-retryable error
// matching is generalized from the teacher's IsRetryable/HTTPStatusError
// predicate into caller-supplied predicates, since the core has no
// HTTP-specific error types.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Strategy selects how the delay before attempt n is computed.
type Strategy string

const (
	Constant    Strategy = "CONSTANT"
	Linear      Strategy = "LINEAR"
	Exponential Strategy = "EXPONENTIAL"
	Jitter      Strategy = "JITTER"
)

// Hook is invoked before each retry delay, with the attempt number (1 for
// the delay before the second attempt), the error that triggered the
// retry, and the delay about to be waited. Hook errors are never
// propagated; callers that panic are the caller's own problem.
type Hook func(attempt int, err error, delay time.Duration)

// Config configures a bounded retry loop.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt. 0
	// means the callable is invoked exactly once.
	MaxRetries int
	// InitialDelay is the base delay used by every strategy.
	InitialDelay time.Duration
	// MaxDelay clamps the computed delay for any attempt.
	MaxDelay time.Duration
	// BackoffFactor is the multiplier used by EXPONENTIAL and JITTER.
	BackoffFactor float64
	// Strategy selects the delay formula. Defaults to Exponential.
	Strategy Strategy
	// Retryable reports whether err should trigger a retry. If nil, every
	// non-nil error is retried (subject to NonRetryable).
	Retryable func(error) bool
	// NonRetryable reports whether err must never be retried, overriding
	// Retryable. If nil, no error is excluded this way.
	NonRetryable func(error) bool
	// OnRetry is called before each retry delay; may be nil.
	OnRetry Hook
}

// ExhaustedError is returned when every attempt has failed.
type ExhaustedError struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }

// shouldRetry applies Retryable/NonRetryable, preferring the exclusion list
// whenever both match.
func (c Config) shouldRetry(err error) bool {
	if c.NonRetryable != nil && c.NonRetryable(err) {
		return false
	}
	if c.Retryable == nil {
		return true
	}
	return c.Retryable(err)
}

// Delay computes the wait before retry n (n ≥ 1 is the number of the
// attempt that just failed, so Delay(1) is the delay before the second
// overall attempt), clamped to MaxDelay.
func (c Config) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := float64(c.InitialDelay)
	var d float64
	switch c.Strategy {
	case Constant:
		d = base
	case Linear:
		d = base * float64(n)
	case Jitter:
		d = base * math.Pow(c.BackoffFactor, float64(n-1))
		d *= 0.5 + rand.Float64() // uniform(0.5, 1.5) //nolint:gosec // jitter, not security sensitive
	case Exponential, "":
		d = base * math.Pow(c.BackoffFactor, float64(n-1))
	default:
		d = base * math.Pow(c.BackoffFactor, float64(n-1))
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do executes fn, retrying on retryable errors up to cfg.MaxRetries times.
// Cancellation of ctx interrupts any pending delay and returns ctx.Err()
// immediately. On exhaustion, the last error is wrapped in *ExhaustedError.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.shouldRetry(err) {
			return err
		}
		if attempt > cfg.MaxRetries {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &ExhaustedError{
		Attempts:      cfg.MaxRetries + 1,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}
