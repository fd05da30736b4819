package utils

import (
	"context"
	"math/rand"
	"time"
)

// Backoff returns an exponential delay with full jitter for a 1-based attempt:
// a random duration in [0, min(base*2^(attempt-1), max)].
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	delay := max
	if attempt < 32 {
		if d := base << (attempt - 1); d > 0 && d < max {
			delay = d
		}
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
