// Package retry provides the single retry policy used at every call site
// that talks to an unreliable peer: the HTTP transport, the HTTP status
// layer and the persistence backends. A policy is parameterized by which
// errors are retryable, the backoff schedule and the attempt budget, so the
// three sites share one implementation instead of re-deriving sleep loops.
package retry

import (
	"context"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff returns the delay before attempt n (n starts at 1 for the
	// first retry). A nil Backoff means no delay.
	Backoff func(attempt int) time.Duration
	// Retryable reports whether the error is worth another attempt. A nil
	// Retryable treats every error as retryable.
	Retryable func(err error) bool
	// OnRetry is invoked before each retry sleep, for metrics. May be nil.
	OnRetry func()
}

// Linear returns a backoff schedule of attempt*step.
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Exponential returns a backoff schedule of base*2^(attempt-1).
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base << (attempt - 1)
	}
}

// Do runs fn under the policy. It returns nil as soon as fn succeeds, the
// last error once attempts are exhausted or fn fails non-retryably, and the
// context error if the context is cancelled while backing off.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry()
		}
		if p.Backoff != nil {
			select {
			case <-time.After(p.Backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
