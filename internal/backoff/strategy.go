package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before a given retry attempt. Attempt numbers
// start at zero for the first retry.
type Strategy interface {
	Calculate(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitterStrategy grows the delay geometrically and adds uniform
// jitter on top, capped at max.
type ExponentialJitterStrategy struct{}

// Calculate returns initial * multiplier^attempt plus up to jitter*delay of
// random spread, never exceeding max.
func (ExponentialJitterStrategy) Calculate(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Large attempt numbers would overflow the float math.
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(initial) * pow(multiplier, attempt))
	if delay < 0 || delay > max {
		delay = max
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		spread := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+spread > max {
			delay = max
		} else {
			delay += spread
		}
	}
	return delay
}

// DecorrelatedJitterStrategy implements AWS-style decorrelated jitter:
// random_between(base, min(cap, base*3^attempt)). It produces smoother tail
// latencies than plain exponential jitter under contention.
type DecorrelatedJitterStrategy struct{}

// Calculate returns a delay drawn uniformly between initial and the capped
// decorrelated upper bound. The multiplier and jitter arguments are ignored;
// the strategy carries its own spread.
func (DecorrelatedJitterStrategy) Calculate(attempt int, initial, max time.Duration, _, _ float64) time.Duration {
	if attempt <= 0 {
		return initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(initial)
	upper := base * pow(3.0, attempt)

	capped := float64(max)
	if upper > capped || upper < 0 {
		upper = capped
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > max {
		delay = max
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// pow is integer exponentiation kept local to avoid importing math for a
// handful of multiplications.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
