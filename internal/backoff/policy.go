// Package backoff provides exponential backoff utilities with jitter for the
// completion transport's retry logic, including support for server-supplied
// retry-after hints and heavier policies for image-bearing requests.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// Compute calculates the backoff duration for a given attempt number.
// The formula is: base = initialMs * factor^(attempt-1), jitter = base * jitter * random()
// Returns min(maxMs, base + jitter) as a time.Duration. Attempts start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided random
// value in [0.0, 1.0). Useful for deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// ComputeHinted calculates the delay when the server supplied a retry-after
// value (an HTTP 429 Retry-After header or an in-message hint). The hint
// takes precedence over the exponential schedule; jitter is still added on
// top so synchronized clients fan out, and the result is clamped to MaxMs.
func ComputeHinted(policy Policy, hint time.Duration, attempt int) time.Duration {
	return ComputeHintedWithRand(policy, hint, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeHintedWithRand is ComputeHinted with an injected random value.
func ComputeHintedWithRand(policy Policy, hint time.Duration, attempt int, randomValue float64) time.Duration {
	if hint <= 0 {
		return ComputeWithRand(policy, attempt, randomValue)
	}
	base := float64(hint.Milliseconds())
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// Doubled returns a copy of the policy with initial and maximum delays
// doubled. Used for requests carrying image attachments, which rate limiters
// weigh more heavily.
func (p Policy) Doubled() Policy {
	return Policy{
		InitialMs: p.InitialMs * 2,
		MaxMs:     p.MaxMs * 2,
		Factor:    p.Factor,
		Jitter:    p.Jitter,
	}
}

// DefaultPolicy returns the transport's default backoff policy.
// Initial: 500ms, Max: 30s, Factor: 2, Jitter: 20%.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 500,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.2,
	}
}
