package backoff

import (
	"context"
	"time"
)

// Sleep sleeps for the specified duration, respecting context cancellation.
// Returns nil if the sleep completed, or ctx.Err() if the context was cancelled.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepBackoff calculates the backoff duration for the given attempt and
// sleeps. Returns nil if the sleep completed, or ctx.Err() on cancellation.
func SleepBackoff(ctx context.Context, policy Policy, attempt int) error {
	return Sleep(ctx, Compute(policy, attempt))
}

// SleepHinted sleeps for the hinted delay (with jitter), falling back to the
// exponential schedule when no hint is available.
func SleepHinted(ctx context.Context, policy Policy, hint time.Duration, attempt int) error {
	return Sleep(ctx, ComputeHinted(policy, hint, attempt))
}
