// Package retry provides a small constant-backoff retry policy with an
// injectable timer, so callers can be exercised without real sleeps.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default policy values.
const (
	DefaultMaxRetries = 5
	DefaultBackoff    = 5 * time.Second
)

// Notify is called after each failed attempt that will be retried.
type Notify func(err error, attempt int, wait time.Duration)

// Policy describes how many times an operation is retried and how long to wait
// between attempts. A policy with MaxRetries N performs at most N+1 attempts.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration

	// Timer overrides the wall-clock timer used between attempts. Nil uses
	// the real clock.
	Timer backoff.Timer
}

// DefaultPolicy returns the policy used for shard reads.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
	}
}

// Attempts returns the maximum number of attempts the policy performs.
func (p Policy) Attempts() int {
	return max(p.MaxRetries, 0) + 1
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	constant := backoff.NewConstantBackOff(max(p.Backoff, 0))

	return backoff.WithContext(backoff.WithMaxRetries(constant, uint64(max(p.MaxRetries, 0))), ctx)
}

// Do runs op until it succeeds, the retry ceiling is reached or ctx is done.
// It returns the number of attempts made and the last error.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error, notify Notify) (int, error) {
	attempts := 0

	operation := func() error {
		attempts++

		return op(ctx)
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) {
			notify(err, attempts, wait)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, policy.backOff(ctx), onRetry, policy.Timer)
	if err != nil {
		return attempts, fmt.Errorf("after %d attempts: %w", attempts, err)
	}

	return attempts, nil
}

// Permanent wraps err so that Do stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
