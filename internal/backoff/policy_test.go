package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRand(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{
			name:        "first attempt with no jitter",
			policy:      Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:     1,
			randomValue: 0.5,
			expected:    100 * time.Millisecond,
		},
		{
			name:        "second attempt doubles",
			policy:      Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:     2,
			randomValue: 0.5,
			expected:    200 * time.Millisecond,
		},
		{
			name:        "third attempt quadruples",
			policy:      Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:     3,
			randomValue: 0.5,
			expected:    400 * time.Millisecond,
		},
		{
			name:        "clamped to max",
			policy:      Policy{InitialMs: 100, MaxMs: 250, Factor: 2, Jitter: 0},
			attempt:     5,
			randomValue: 0.5,
			expected:    250 * time.Millisecond,
		},
		{
			name:        "jitter adds up to fraction of base",
			policy:      Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.5},
			attempt:     1,
			randomValue: 1.0,
			expected:    150 * time.Millisecond,
		},
		{
			name:        "zero attempt treated as first",
			policy:      Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:     0,
			randomValue: 0,
			expected:    100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeWithRand(tt.policy, tt.attempt, tt.randomValue)
			if got != tt.expected {
				t.Errorf("ComputeWithRand() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestComputeHintedWithRand(t *testing.T) {
	policy := Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.2}

	t.Run("hint takes precedence over schedule", func(t *testing.T) {
		got := ComputeHintedWithRand(policy, 3*time.Second, 1, 0)
		if got != 3*time.Second {
			t.Errorf("hinted backoff = %v, want 3s", got)
		}
	})

	t.Run("jitter applied on top of hint", func(t *testing.T) {
		got := ComputeHintedWithRand(policy, 1*time.Second, 1, 1.0)
		if got != 1200*time.Millisecond {
			t.Errorf("hinted backoff = %v, want 1.2s", got)
		}
	})

	t.Run("hint clamped to max", func(t *testing.T) {
		got := ComputeHintedWithRand(policy, time.Minute, 1, 0)
		if got != 10*time.Second {
			t.Errorf("hinted backoff = %v, want 10s", got)
		}
	})

	t.Run("zero hint falls back to schedule", func(t *testing.T) {
		got := ComputeHintedWithRand(policy, 0, 2, 0)
		if got != 200*time.Millisecond {
			t.Errorf("hinted backoff = %v, want 200ms", got)
		}
	})
}

func TestPolicyDoubled(t *testing.T) {
	base := DefaultPolicy()
	doubled := base.Doubled()

	if doubled.InitialMs != base.InitialMs*2 {
		t.Errorf("InitialMs = %v, want %v", doubled.InitialMs, base.InitialMs*2)
	}
	if doubled.MaxMs != base.MaxMs*2 {
		t.Errorf("MaxMs = %v, want %v", doubled.MaxMs, base.MaxMs*2)
	}
	if doubled.Factor != base.Factor || doubled.Jitter != base.Jitter {
		t.Error("Factor and Jitter should be unchanged")
	}
}
