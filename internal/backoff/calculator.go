package backoff

import (
	"time"
)

// Calculator binds a Strategy so callers that share one set of tuning
// parameters do not have to thread the strategy value around.
type Calculator struct {
	strategy Strategy
}

// NewCalculator returns a Calculator using the given strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate delegates to the configured strategy.
func (c *Calculator) Calculate(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration {
	return c.strategy.Calculate(attempt, initial, max, multiplier, jitter)
}

// ExponentialJitterCalculator is the default calculator most callers want.
func ExponentialJitterCalculator() *Calculator {
	return NewCalculator(ExponentialJitterStrategy{})
}

// DecorrelatedJitterCalculator returns a calculator with AWS-style
// decorrelated jitter.
func DecorrelatedJitterCalculator() *Calculator {
	return NewCalculator(DecorrelatedJitterStrategy{})
}
