package retry

import (
	"context"
	"fmt"
	"time"

	"stockgen/internal/infra"
)

// Policy describes a bounded retry schedule. Attempts counts the first call,
// so Attempts=3 means one call plus at most two retries.
type Policy struct {
	Attempts   int
	Delay      time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Retryable decides whether err is worth another attempt. Nil retries everything.
	Retryable func(err error) bool
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, Multiplier: 1}
}

// Exponential returns a policy whose delay doubles after each attempt, capped at max.
func Exponential(attempts int, initial, max time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: initial, MaxDelay: max, Multiplier: 2}
}

// Do runs fn until it succeeds, returns a non-retryable error or the policy is exhausted.
func Do(ctx context.Context, p Policy, logger *infra.Logger, op string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, logger, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, logger *infra.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = infra.NopLogger()
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.delay(attempt - 1)
			logger.Warn().
				Err(lastErr).
				Str("op", op).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Dur("delay", delay).
				Msg("retry: attempt failed, retrying")
			if err := sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("%s: retry cancelled: %w", op, err)
			}
		}
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, lastErr)
}

func (p Policy) delay(retry int) time.Duration {
	d := p.Delay
	if d <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < retry; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

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
