package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested item does not exist.
	ErrNotFound = errors.New("cache: not found")

	// ErrBackend is returned when a remote backend cannot be reached.
	ErrBackend = errors.New("cache: backend unavailable")
)

// RetryableError marks an error worth retrying.
type RetryableError struct{ Err error }

// Retryable wraps err as a RetryableError. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// RetryPolicy bounds a retry loop.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration // doubled after every failed attempt
}

// DefaultRetryPolicy is three attempts starting at 100ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	delay := p.BaseDelay
	var lastErr error
	for i := 0; i < p.Attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		if i == p.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return lastErr
}
