package mapprovider

import (
	"context"
	"math/rand"
	"time"
)

// withBackoff runs fn up to maxRetries+1 times, sleeping an exponentially
// growing, jittered delay between attempts whenever fn returns a retryable
// error. It returns fn's last error if every attempt is exhausted.
func withBackoff(ctx context.Context, maxRetries int, retryable func(error) bool, fn func() error) error {
	base := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == maxRetries {
			return lastErr
		}

		delay := base * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
