package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DeliveryError is a non-2xx response from a hook endpoint.
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook: endpoint responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

type attemptFunc func(ctx context.Context, attempt int) error

// deliverWithRetry runs fn up to maxAttempts times with linear backoff
// between attempts. It returns the attempt count and the last error.
func deliverWithRetry(ctx context.Context, maxAttempts int, backoff time.Duration, fn attemptFunc) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == maxAttempts || !isRetryable(lastErr) {
			return attempt, lastErr
		}

		wait := retryBackoffDuration(backoff, attempt)
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return maxAttempts, lastErr
}

func retryBackoffDuration(backoff time.Duration, attempt int) time.Duration {
	if backoff <= 0 || attempt <= 0 {
		return 0
	}
	return backoff * time.Duration(attempt)
}

// isRetryable reports whether another attempt may succeed. Every non-2xx
// response and transport failure is retried; only caller cancellation stops
// the loop early.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
