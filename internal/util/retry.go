package util

import (
	"context"
	"time"
)

// Retry runs fn up to maxAttempts times. After a failed attempt it sleeps
// baseDelay * 2^attempt before trying again, honouring context cancellation
// during the backoff. The error from the final attempt is returned unmodified
// so callers can inspect it; a nil return means some attempt succeeded.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}

		// No backoff after the final attempt.
		if attempt == maxAttempts-1 {
			break
		}

		backoff := baseDelay * (1 << attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return lastErr
}
