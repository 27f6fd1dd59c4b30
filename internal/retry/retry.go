// Package retry implements the engine's retry policy for transient
// provider failures: a bounded number of attempts with exponential backoff,
// and a Permanent wrapper to short-circuit errors that must not be retried.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay after the first failure; it doubles on each
	// subsequent failure.
	BaseDelay time.Duration
}

// DefaultPolicy is the engine's provider-call policy: three attempts with
// 1s/2s backoff between them.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second}
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the policy stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a Permanent marker.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// DoValue runs op under the policy and returns its value. Permanent errors
// and context cancellation stop the loop; all other errors are retried with
// exponential backoff until MaxAttempts is exhausted. The returned error is
// unwrapped from any Permanent marker.
func DoValue[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := op()
		if err == nil {
			return value, nil
		}
		lastErr = err

		if IsPermanent(err) || attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	var p2 *PermanentError
	if errors.As(lastErr, &p2) {
		return zero, p2.Err
	}
	return zero, lastErr
}

// Do runs an error-only operation under the policy.
func Do(ctx context.Context, p Policy, op func() error) error {
	_, err := DoValue(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
