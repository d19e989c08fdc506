// Package retry runs an operation at most twice: once, and again after a
// fixed delay if the first attempt failed. This models a single transient
// failure, such as a momentarily busy device, rather than general flakiness.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultDelay is the pause between attempts used by the harness.
const DefaultDelay = time.Second

// Timer is the sleep used between attempts. It matches backoff.Timer so
// tests can observe or skip the delay.
type Timer = backoff.Timer

// Policy retries an operation once after Delay.
type Policy struct {
	Delay time.Duration
	// Timer replaces the real timer when set.
	Timer Timer
}

// Once runs op under a Policy with delay d.
func Once(ctx context.Context, d time.Duration, op func() error) error {
	return Policy{Delay: d}.Do(ctx, op)
}

// OnceWithData runs op under a Policy with delay d and returns its value.
func OnceWithData[T any](ctx context.Context, d time.Duration, op func() (T, error)) (T, error) {
	return DoWithData(ctx, Policy{Delay: d}, op)
}

// Permanent marks err as fatal: the policy returns it immediately, unwrapped,
// without sleeping or retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op. If it fails with a retryable error, Do sleeps for p.Delay and
// runs it once more. The error of the last attempt is returned unchanged.
func (p Policy) Do(ctx context.Context, op func() error) error {
	_, err := DoWithData(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// DoWithData is Do for operations that produce a value. When ctx is
// cancelled during the delay the second attempt never runs and the context
// error is returned. Once the second attempt has run, its error is returned
// even if ctx was cancelled meanwhile.
func DoWithData[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), 1), ctx)

	notify := func(err error, next time.Duration) {
		slog.Warn("retry_scheduled", "delay", next, "error", err)
	}

	attempts := 0
	var last error
	counted := func() (T, error) {
		attempts++
		v, err := op()
		last = err
		return v, err
	}

	var (
		v   T
		err error
	)
	if p.Timer != nil {
		v, err = backoff.RetryNotifyWithTimerAndData(counted, b, notify, p.Timer)
	} else {
		v, err = backoff.RetryNotifyWithData(counted, b, notify)
	}

	// backoff reports ctx.Err() in place of the final attempt's error.
	if err != nil && attempts == 2 && last != nil && err == ctx.Err() {
		return v, last
	}
	return v, err
}
