package library

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const retryJitterFactor = 0.3

// retryOnConflict runs fn up to attempts times. Only ErrStoreConflict is
// retried; every other outcome is returned as is. Each retry waits
// baseDelay * 2^(n-1) plus jitter.
func retryOnConflict(ctx context.Context, attempts int, baseDelay time.Duration, onRetry func(), fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry()
			}
			delay := baseDelay * time.Duration(1<<(attempt-1))
			jitter := time.Duration(rand.Float64() * float64(delay) * retryJitterFactor) //nolint:gosec // jitter only
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || !errors.Is(lastErr, ErrStoreConflict) {
			return lastErr
		}
	}
	return lastErr
}
