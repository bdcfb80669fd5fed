package risk

import (
	"errors"
	"testing"
	"time"
)

func TestConsecutiveErrorsHalt(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 2})
	if err := cb.Allow(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cb.OnError()
	cb.OnSubmitted()
	cb.OnError()
	if err := cb.Allow(); err != nil {
		t.Fatalf("success should reset the error streak: %v", err)
	}
	cb.OnError()
	if err := cb.Allow(); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected breaker open, got %v", err)
	}
	if !cb.Status().Halted {
		t.Error("breaker should be halted")
	}

	cb.Resume()
	if err := cb.Allow(); err != nil {
		t.Fatalf("resume should reopen: %v", err)
	}
}

func TestDailySubmissionLimitRollsOver(t *testing.T) {
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{DailySubmissionLimit: 1})
	cb.now = func() time.Time { return day }

	if err := cb.Allow(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cb.OnSubmitted()
	if err := cb.Allow(); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected limit reached, got %v", err)
	}
	if cb.Status().Halted {
		t.Error("daily limit should not halt the breaker")
	}

	day = day.Add(24 * time.Hour)
	if err := cb.Allow(); err != nil {
		t.Fatalf("limit should reset next day: %v", err)
	}
}

func TestNilBreaker(t *testing.T) {
	var cb *CircuitBreaker
	cb.Halt()
	cb.OnError()
	cb.OnSubmitted()
	if err := cb.Allow(); err != nil {
		t.Errorf("nil breaker should allow: %v", err)
	}
	if cb.Status().Halted {
		t.Error("nil breaker status should be zero")
	}
}

func TestManualHalt(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	cb.Halt()
	if err := cb.Allow(); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected open, got %v", err)
	}
}
