package jlhttp

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/beixiyo/jl-http-sub000/internal/backoff"
)

// RetryPolicy decides whether a transport outcome warrants another attempt
// and how long to wait before it.
type RetryPolicy interface {
	// ShouldRetry returns the delay before the next attempt and whether to
	// retry at all. attempt is zero-based.
	ShouldRetry(resp *http.Response, err error, attempt int) (time.Duration, bool)
}

// BackoffStrategy selects the delay algorithm used between retries.
type BackoffStrategy int

const (
	// ExponentialJitter grows delays geometrically with uniform jitter.
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter uses AWS-style decorrelated jitter.
	DecorrelatedJitter
)

// strategyFor maps the exported enum onto the internal implementation.
func strategyFor(s BackoffStrategy) backoff.Strategy {
	switch s {
	case DecorrelatedJitter:
		return backoff.DecorrelatedJitterStrategy{}
	default:
		return backoff.ExponentialJitterStrategy{}
	}
}

// IsIdempotentFunc reports whether a method is safe to retry.
type IsIdempotentFunc func(method string) bool

// DefaultRetryPolicy retries transport errors and 429/5xx responses on
// idempotent methods, honoring Retry-After when the server provides one.
type DefaultRetryPolicy struct {
	maxRetries   int
	initial      time.Duration
	max          time.Duration
	multiplier   float64
	jitter       float64
	calculator   *backoff.Calculator
	isIdempotent IsIdempotentFunc
}

// NewDefaultRetryPolicy creates a retry policy with exponential-jitter
// backoff that only retries idempotent methods.
func NewDefaultRetryPolicy(maxRetries int, initial, max time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxRetries, initial, max, multiplier, jitter, ExponentialJitter)
}

// NewDefaultRetryPolicyWithStrategy creates a retry policy with a specific
// backoff strategy.
func NewDefaultRetryPolicyWithStrategy(maxRetries int, initial, max time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		maxRetries:   maxRetries,
		initial:      initial,
		max:          max,
		multiplier:   multiplier,
		jitter:       jitter,
		calculator:   backoff.NewCalculator(strategyFor(strategy)),
		isIdempotent: DefaultIsIdempotent,
	}
}

// SetIsIdempotent replaces the idempotency check.
func (p *DefaultRetryPolicy) SetIsIdempotent(fn IsIdempotentFunc) {
	if fn != nil {
		p.isIdempotent = fn
	}
}

// ShouldRetry implements the RetryPolicy interface.
func (p *DefaultRetryPolicy) ShouldRetry(resp *http.Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}

	// Non-idempotent methods are never retried by default.
	if resp != nil && resp.Request != nil && !p.isIdempotent(resp.Request.Method) {
		return 0, false
	}

	shouldRetry := false
	var delay time.Duration

	if err != nil {
		// Transport errors are generally retryable.
		shouldRetry = true
	} else if resp != nil {
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			shouldRetry = true
			delay = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
	}

	if !shouldRetry {
		return 0, false
	}

	if delay == 0 {
		delay = p.calculator.Calculate(attempt, p.initial, p.max, p.multiplier, p.jitter)
	}
	return delay, true
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case "GET", "HEAD", "PUT", "DELETE", "OPTIONS":
		return true
	default:
		return false
	}
}

// parseRetryAfter parses a Retry-After header value, supporting both
// delay-seconds and HTTP-date forms. Delays are capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget caps the volume of retries within a sliding window so a
// struggling upstream is not hammered by every caller at once.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64 // unix nanos
}

// NewRetryBudget creates a budget allowing maxRetries retries per window.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow reports whether another retry fits the current window's budget.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	current := atomic.LoadInt64(&rb.current)
	if current >= rb.maxRetries {
		return false
	}

	return atomic.AddInt64(&rb.current, 1) <= rb.maxRetries
}

// Stats returns the current count, the budget, and when the window began.
func (rb *RetryBudget) Stats() (current, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&rb.current),
		rb.maxRetries,
		time.Unix(0, atomic.LoadInt64(&rb.windowStart))
}
