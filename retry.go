package docevent

import (
	"context"
	"math/rand"
	"time"
)

// backoffDelay computes the wait before re-running a failed dispatch.
// attempt is the zero-based index of the attempt that just failed, so the
// Nth retry (N >= 1) waits N times the policy's extend factor, capped at
// the policy's interval max: a linear-then-flat curve.
func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	delay := p.RetryIntervalExtendFactor() * time.Duration(attempt+1)
	if ceiling := p.RetryIntervalMax(); delay > ceiling {
		delay = ceiling
	}
	return delay
}

// giveUp decides whether a failed attempt ends the dispatch: either the
// error is not retryable under the policy, or the attempt bound is spent.
func giveUp(p RetryPolicy, err error, attempt int) bool {
	if !p.IsRetryableError(err) {
		return true
	}
	return attempt+1 >= p.RetryMax()
}

// jittered spreads a delay by up to +/- factor, preventing synchronized
// retries across concurrent publishes. A factor of 0 leaves it untouched.
func jittered(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || factor > 1 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(d) * (1 + spread))
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
