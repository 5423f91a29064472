package docevent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rbaliyan/docevent/store"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"marked retryable", Retryable(errors.New("boom")), true},
		{"marked retryable wrapped further", fmt.Errorf("op: %w", Retryable(errors.New("boom"))), true},
		{"transient store failure", store.Transient(errors.New("timeout")), true},
		{"store conflict", store.ErrConflict, true},
		{"deadline expiry", context.DeadlineExceeded, true},
		{"permanent wins over retryable", Permanent(Retryable(errors.New("boom"))), false},
		{"permanent wins over transient", Permanent(store.ErrTransient), false},
		{"not found is not retryable", store.ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryableKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	if !errors.Is(Retryable(cause), cause) {
		t.Error("errors.Is(Retryable(cause), cause) = false, want true")
	}
	if !errors.Is(Permanent(cause), cause) {
		t.Error("errors.Is(Permanent(cause), cause) = false, want true")
	}
}

func TestRetryExhaustedError(t *testing.T) {
	cause := store.Transient(errors.New("primary stepped down"))
	err := &RetryExhaustedError{Attempts: 4, LastErr: cause}

	if !IsRetryExhausted(err) {
		t.Error("IsRetryExhausted() = false, want true")
	}
	if IsRetryExhausted(cause) {
		t.Error("IsRetryExhausted(cause) = true, want false")
	}
	if !errors.Is(err, store.ErrTransient) {
		t.Error("errors.Is(err, store.ErrTransient) = false, want true")
	}

	var exhausted *RetryExhaustedError
	if !errors.As(fmt.Errorf("publish: %w", err), &exhausted) {
		t.Fatal("errors.As through a wrap failed")
	}
	if exhausted.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", exhausted.Attempts)
	}
}
