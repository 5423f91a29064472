package docevent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/docevent/store"
)

// Publisher errors
var (
	// ErrPublisherClosed is returned by Publish after Close.
	ErrPublisherClosed = errors.New("publisher is closed")

	// ErrInvalidHandler indicates a subscriber returned a handler whose
	// capability methods don't match its kind, e.g. a handler embedding
	// WriteHooks without a HandleEvent(ctx, Writer) method.
	ErrInvalidHandler = errors.New("invalid handler")
)

// Classification sentinels. Wrap an error with Retryable or Permanent to
// force how the retry loop treats it regardless of its origin.
// Use errors.Is() to check for them as they may be wrapped further.
var (
	// ErrRetryableMark marks an error as retryable.
	ErrRetryableMark = errors.New("retryable")

	// ErrPermanentMark marks an error as not retryable, overriding every
	// other classification.
	ErrPermanentMark = errors.New("permanent")
)

// Retryable wraps err so the retry loop will retry it.
func Retryable(err error) error {
	if err == nil {
		return ErrRetryableMark
	}
	return fmt.Errorf("%w: %w", ErrRetryableMark, err)
}

// Permanent wraps err so the retry loop gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return ErrPermanentMark
	}
	return fmt.Errorf("%w: %w", ErrPermanentMark, err)
}

// IsRetryable is the default retryable-error classification used by events
// without a custom predicate. Retryable are: errors marked with Retryable,
// transient store failures (see store.IsTransient) and deadline expiry.
// A Permanent mark always wins.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanentMark) {
		return false
	}
	return errors.Is(err, ErrRetryableMark) ||
		store.IsTransient(err) ||
		errors.Is(err, context.DeadlineExceeded)
}

// RetryExhaustedError is returned by Publish when every allowed attempt
// failed with a retryable error. It wraps the error of the final attempt,
// so errors.Is / errors.As reach the underlying cause.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted checks if an error indicates retry exhaustion.
func IsRetryExhausted(err error) bool {
	var exhausted *RetryExhaustedError
	return errors.As(err, &exhausted)
}
