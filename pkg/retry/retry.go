// Package retry implements the bounded exponential-backoff policy that wraps every
// storage call of the dialog engine.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is matched (errors.Is) by the error returned when all attempts failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError carries the last failure of an exhausted operation.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap returns the last failure.
func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is reports ErrExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Policy is an explicit retry configuration passed to every call site.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// MinDelay and MaxDelay bound the exponential backoff between attempts.
	MinDelay time.Duration
	MaxDelay time.Duration
	// Multiplier grows the delay after each failure (default 2).
	Multiplier float64

	// Retryable selects the errors worth retrying. Others are returned immediately.
	// Nil retries every error except context cancellation.
	Retryable func(error) bool

	// OnRetry is called before sleeping after a retryable failure.
	OnRetry func(op string, attempt int, err error)

	// OnExhausted is the escalation hook, called once when all attempts failed.
	OnExhausted func(ctx context.Context, op string, err error)
}

// Default returns the policy used when none is configured: 5 attempts, 1s to 60s.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		MinDelay:    time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  2,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or runs out of attempts.
// Cancelling ctx aborts a pending backoff and returns the context error.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := p.backoff()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(op, attempt, lastErr)
		}

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}

	exhausted := &ExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
	if p.OnExhausted != nil {
		p.OnExhausted(ctx, op, exhausted)
	}
	return exhausted
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.MinDelay
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
