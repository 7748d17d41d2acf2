package jlhttp

import (
	"context"
	"fmt"
	"time"

	"github.com/beixiyo/jl-http-sub000/internal/backoff"
)

// RetryError reports a retry-wrapped task that never succeeded. It carries
// the total number of attempts made and the failure of the last one.
type RetryError struct {
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("jlhttp: task failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error.
func (e *RetryError) Unwrap() error {
	return e.Last
}

type retryConfig struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	strategy   backoff.Strategy
}

// RetryOption tunes RetryTask.
type RetryOption func(*retryConfig)

// WithTaskBackoff inserts an exponential-jitter delay between attempts,
// bounded by initial and max. Without it retries are immediate: pacing
// belongs to the task itself.
func WithTaskBackoff(initial, max time.Duration) RetryOption {
	return func(cfg *retryConfig) {
		cfg.initial = initial
		cfg.max = max
		cfg.strategy = backoff.ExponentialJitterStrategy{}
	}
}

// WithTaskBackoffStrategy swaps the delay algorithm used between attempts.
// It implies backoff is enabled; combine with WithTaskBackoff to set the
// bounds.
func WithTaskBackoffStrategy(strategy BackoffStrategy) RetryOption {
	return func(cfg *retryConfig) {
		cfg.strategy = strategyFor(strategy)
	}
}

// RetryTask invokes task up to retries+1 times and resolves with the first
// success. retries == 0 means exactly one attempt; negative values are
// treated as zero. On exhaustion the zero value is returned together with a
// *RetryError carrying the attempt count and the last failure.
//
// Every failure is treated as retryable, recovered panics included. The
// context is consulted before each attempt and during backoff sleeps;
// cancellation surfaces as a cancellation-typed error distinguishable from
// ordinary failure.
func RetryTask[T any](ctx context.Context, retries int, task Task[T], opts ...RetryOption) (T, error) {
	cfg := retryConfig{
		initial:    defaultInitialBackoff,
		max:        defaultMaxBackoff,
		multiplier: defaultBackoffMultiplier,
		jitter:     defaultJitter,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if retries < 0 {
		retries = 0
	}

	var zero T
	var last error
	attempts := 0
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, newContextError(err)
		}

		attempts++
		result := settle(ctx, task)
		if result.Err == nil {
			return result.Value, nil
		}
		last = result.Err

		if attempt < retries && cfg.strategy != nil {
			delay := cfg.strategy.Calculate(attempt, cfg.initial, cfg.max, cfg.multiplier, cfg.jitter)
			if err := sleepContext(ctx, delay); err != nil {
				return zero, newContextError(err)
			}
		}
	}
	return zero, &RetryError{Attempts: attempts, Last: last}
}

// sleepContext blocks for d unless the context finishes first.
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
