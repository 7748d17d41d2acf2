package backoff

import (
	"testing"
	"time"
)

func TestExponentialJitterStrategy(t *testing.T) {
	strategy := ExponentialJitterStrategy{}

	tests := []struct {
		name       string
		attempt    int
		initial    time.Duration
		max        time.Duration
		multiplier float64
		expected   time.Duration
	}{
		{"attempt 0", 0, 100 * time.Millisecond, 5 * time.Second, 2.0, 100 * time.Millisecond},
		{"attempt 1", 1, 100 * time.Millisecond, 5 * time.Second, 2.0, 200 * time.Millisecond},
		{"attempt 2", 2, 100 * time.Millisecond, 5 * time.Second, 2.0, 400 * time.Millisecond},
		{"negative attempt", -1, 100 * time.Millisecond, 5 * time.Second, 2.0, 100 * time.Millisecond},
		{"capped at max", 10, 100 * time.Millisecond, time.Second, 2.0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Jitter is zero so the result is deterministic.
			result := strategy.Calculate(tt.attempt, tt.initial, tt.max, tt.multiplier, 0.0)
			if result != tt.expected {
				t.Errorf("Calculate(%d, %v, %v, %f, 0) = %v, want %v",
					tt.attempt, tt.initial, tt.max, tt.multiplier, result, tt.expected)
			}
		})
	}
}

func TestExponentialJitterStrategyJitterBounds(t *testing.T) {
	strategy := ExponentialJitterStrategy{}

	base := 200 * time.Millisecond
	for i := 0; i < 100; i++ {
		result := strategy.Calculate(1, 100*time.Millisecond, 5*time.Second, 2.0, 0.5)
		if result < base || result > base+base/2 {
			t.Fatalf("Calculate with 0.5 jitter = %v, want in [%v, %v]", result, base, base+base/2)
		}
	}
}

func TestExponentialJitterStrategyLargeAttemptNoOverflow(t *testing.T) {
	strategy := ExponentialJitterStrategy{}

	result := strategy.Calculate(1000, 100*time.Millisecond, 5*time.Second, 2.0, 0.0)
	if result != 5*time.Second {
		t.Errorf("Calculate(1000) = %v, want capped 5s", result)
	}
}

func TestDecorrelatedJitterStrategy(t *testing.T) {
	strategy := DecorrelatedJitterStrategy{}

	tests := []struct {
		name        string
		attempt     int
		initial     time.Duration
		max         time.Duration
		minExpected time.Duration
		maxExpected time.Duration
	}{
		{"attempt 0 is exactly initial", 0, 100 * time.Millisecond, 5 * time.Second, 100 * time.Millisecond, 100 * time.Millisecond},
		{"attempt 1 spreads to 3x", 1, 100 * time.Millisecond, 5 * time.Second, 100 * time.Millisecond, 300 * time.Millisecond},
		{"attempt 2 spreads to 9x", 2, 100 * time.Millisecond, 5 * time.Second, 100 * time.Millisecond, 900 * time.Millisecond},
		{"never exceeds max", 10, 100 * time.Millisecond, time.Second, 100 * time.Millisecond, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				result := strategy.Calculate(tt.attempt, tt.initial, tt.max, 2.0, 0.0)
				if result < tt.minExpected || result > tt.maxExpected {
					t.Fatalf("Calculate(%d) = %v, want between %v and %v",
						tt.attempt, result, tt.minExpected, tt.maxExpected)
				}
			}
		})
	}
}

func TestClampJitter(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{-0.5, 0.0},
		{0.0, 0.0},
		{0.5, 0.5},
		{1.0, 1.0},
		{1.5, 1.0},
	}

	for _, tt := range tests {
		if result := clampJitter(tt.input); result != tt.expected {
			t.Errorf("clampJitter(%f) = %f, want %f", tt.input, result, tt.expected)
		}
	}
}

func TestPow(t *testing.T) {
	tests := []struct {
		base     float64
		exponent int
		expected float64
	}{
		{2.0, 0, 1.0},
		{2.0, 1, 2.0},
		{2.0, 3, 8.0},
		{3.0, 2, 9.0},
	}

	for _, tt := range tests {
		if result := pow(tt.base, tt.exponent); result != tt.expected {
			t.Errorf("pow(%f, %d) = %f, want %f", tt.base, tt.exponent, result, tt.expected)
		}
	}
}

func BenchmarkExponentialJitterStrategy(b *testing.B) {
	strategy := ExponentialJitterStrategy{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		strategy.Calculate(i%10, 100*time.Millisecond, 5*time.Second, 2.0, 0.1)
	}
}

func BenchmarkDecorrelatedJitterStrategy(b *testing.B) {
	strategy := DecorrelatedJitterStrategy{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		strategy.Calculate(i%10, 100*time.Millisecond, 5*time.Second, 2.0, 0.1)
	}
}
