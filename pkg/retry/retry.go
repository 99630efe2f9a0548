package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is returned by Invoke once every attempt has failed. The
// last failure is wrapped alongside it.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Backoff is a (blocking) function that returns when the next attempt may start.
//
// If ctx is done before that, Backoff returns ctx.Err().
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff that waits for a fixed interval or for the context.
func StaticBackoff(interval time.Duration) Backoff {
	return func(ctx context.Context) error {
		if interval <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Invoke returns the unwrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Invoke calls op until it succeeds, returns a Permanent error, or maxRetries
// attempts have been made. Between attempts it waits on backoff.
//
// maxRetries counts attempts, so maxRetries=3 calls op at most three times and
// waits twice. Values below 1 mean a single attempt.
func Invoke[T any](ctx context.Context, maxRetries int, backoff Backoff, op func(context.Context) (T, error)) (T, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if backoff == nil {
		backoff = StaticBackoff(0)
	}

	var (
		last T
		err  error
	)
	for attempt := 1; ; attempt++ {
		last, err = op(ctx)
		if err == nil {
			return last, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return last, perm.err
		}

		if attempt >= maxRetries {
			return last, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		if waitErr := backoff(ctx); waitErr != nil {
			return last, fmt.Errorf("retry interrupted after %d attempts: %w (last error: %v)", attempt, waitErr, err)
		}
	}
}
