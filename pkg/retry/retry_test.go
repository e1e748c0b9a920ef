package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/limpopo/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection refused")

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		MinDelay:    time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}
}

// failing returns an operation that fails k times before succeeding.
func failing(k int, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= k {
			return errTransient
		}
		return nil
	}
}

func TestPolicy_SucceedsBelowLimit(t *testing.T) {
	var calls int
	p := fastPolicy(5)

	err := p.Do(context.Background(), "save", failing(4, &calls))
	require.NoError(t, err)
	assert.Equal(t, 5, calls)
}

func TestPolicy_Exhausted(t *testing.T) {
	var calls, escalations int
	p := fastPolicy(3)
	p.OnExhausted = func(ctx context.Context, op string, err error) {
		escalations++
		assert.Equal(t, "save", op)
		assert.ErrorIs(t, err, errTransient)
	}

	err := p.Do(context.Background(), "save", failing(3, &calls))

	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, escalations)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestPolicy_NonRetryablePropagates(t *testing.T) {
	boom := errors.New("constraint violation")
	var calls int
	p := fastPolicy(5)
	p.OnExhausted = func(context.Context, string, error) { t.Fatal("must not escalate") }

	err := p.Do(context.Background(), "save", func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_OnRetry(t *testing.T) {
	var attempts []int
	var calls int
	p := fastPolicy(4)
	p.OnRetry = func(op string, attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	require.NoError(t, p.Do(context.Background(), "op", failing(2, &calls)))
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPolicy_ContextCancelAbortsBackoff(t *testing.T) {
	p := retry.Policy{
		MaxAttempts: 5,
		MinDelay:    time.Hour,
		MaxDelay:    time.Hour,
	}
	p.OnExhausted = func(context.Context, string, error) { t.Fatal("must not escalate") }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Do(ctx, "op", func(context.Context) error { return errTransient })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPolicy_NilRetryableRetriesAll(t *testing.T) {
	var calls int
	p := retry.Policy{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}

	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("anything")
	})

	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 3, calls)
}

func TestDefault(t *testing.T) {
	p := retry.Default()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.MinDelay)
	assert.Equal(t, time.Minute, p.MaxDelay)
}
