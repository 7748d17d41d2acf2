package jlhttp

import (
	"testing"
	"time"
)

func TestNewCircuitBreaker(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}

	cb := NewCircuitBreaker(config)

	if cb == nil {
		t.Fatal("NewCircuitBreaker() returned nil")
	}
	if cb.config.FailureThreshold != 3 {
		t.Errorf("Expected FailureThreshold=3, got %d", cb.config.FailureThreshold)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected initial state closed, got %v", cb.State())
	}
}

func TestNewCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.FailureThreshold != 5 {
		t.Errorf("Expected default FailureThreshold=5, got %d", cb.config.FailureThreshold)
	}
	if cb.config.RecoveryTimeout != 60*time.Second {
		t.Errorf("Expected default RecoveryTimeout=60s, got %v", cb.config.RecoveryTimeout)
	}
	if cb.config.SuccessThreshold != 2 {
		t.Errorf("Expected default SuccessThreshold=2, got %d", cb.config.SuccessThreshold)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour, SuccessThreshold: 1})

	if !cb.Allow() {
		t.Fatal("Expected closed breaker to allow")
	}

	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed below threshold, got %v", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("Expected open at threshold, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("Expected open breaker to reject")
	}
}

func TestCircuitBreakerHalfOpenAfterRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 2})

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after failure, got %v", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Expected probe allowed after recovery timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open, got %v", cb.State())
	}
}

func TestCircuitBreakerClosesAfterSuccesses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, SuccessThreshold: 2})

	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	cb.Allow() // transitions to half-open

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open below success threshold, got %v", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after enough successes, got %v", cb.State())
	}
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, SuccessThreshold: 2})

	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	cb.Allow()

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("Expected failed probe to reopen, got %v", cb.State())
	}
}

func TestCircuitBreakerSuccessIgnoredWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed state unchanged, got %v", cb.State())
	}
}

func TestCircuitStateString(t *testing.T) {
	cases := map[CircuitState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half-open",
		CircuitState(42): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
