package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Hinter is implemented by errors that carry a server-supplied retry delay.
type Hinter interface {
	RetryAfter() time.Duration
}

// Result holds the outcome of a retry operation.
type Result[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// Retry executes fn with backoff between failed attempts. It retries up to
// maxAttempts times, sleeping according to the policy; when a failure's error
// implements Hinter the server-supplied delay takes precedence over the
// exponential schedule. Context cancellation is checked before each attempt
// and during sleeps.
//
// fn receives the current attempt number (1-indexed) and returns (value, nil)
// on success or (zero, error) to trigger a retry while attempts remain.
// Returning a non-retryable error stops immediately when the shouldRetry
// predicate rejects it; a nil predicate retries every failure.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	shouldRetry func(error) bool,
	fn func(attempt int) (T, error),
) (Result[T], error) {
	var result Result[T]
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = lastErr
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}

		lastErr = err
		result.LastError = err

		if shouldRetry != nil && !shouldRetry(err) {
			return result, err
		}

		if attempt < maxAttempts {
			var hint time.Duration
			var hinter Hinter
			if errors.As(err, &hinter) {
				hint = hinter.RetryAfter()
			}
			if sleepErr := SleepHinted(ctx, policy, hint, attempt); sleepErr != nil {
				return result, sleepErr
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}
