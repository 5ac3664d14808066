package main

import (
	"context"
	"math/rand"
	"time"
)

// launchOpen reports whether the launch gate has opened. A zero waitUntil
// means no gate is configured.
func launchOpen(now, waitUntil time.Time) bool {
	return waitUntil.IsZero() || !now.Before(waitUntil)
}

// randomDelay picks a duration in [0, max].
func randomDelay(rng *rand.Rand, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(max) + 1))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
