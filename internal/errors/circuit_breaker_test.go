package errors

import (
	"errors"
	"testing"
	"time"
)

func testBreaker(timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          timeout,
	})
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := testBreaker(time.Hour)
	failure := errors.New("boom")

	for i := 0; i < 2; i++ {
		cb.Mark(failure)
		if cb.State() != StateClosed {
			t.Fatalf("opened after %d failures", i+1)
		}
	}
	cb.Mark(failure)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	err := cb.Allow()
	if err == nil {
		t.Fatal("open breaker should reject")
	}
	if !IsTransient(err) {
		t.Fatalf("rejection should be transient, got %v", err)
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := testBreaker(time.Hour)
	failure := errors.New("boom")

	cb.Mark(failure)
	cb.Mark(failure)
	cb.Mark(nil)
	cb.Mark(failure)
	cb.Mark(failure)

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after interleaved success", cb.State())
	}
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	t.Parallel()

	cb := testBreaker(time.Millisecond)
	failure := errors.New("boom")
	for i := 0; i < 3; i++ {
		cb.Mark(failure)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(5 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("half-open probe rejected: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	cb.Mark(nil)
	cb.Mark(nil)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after recovery", cb.State())
	}
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	t.Parallel()

	cb := testBreaker(time.Millisecond)
	failure := errors.New("boom")
	for i := 0; i < 3; i++ {
		cb.Mark(failure)
	}

	time.Sleep(5 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("half-open probe rejected: %v", err)
	}

	cb.Mark(failure)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want reopened", cb.State())
	}
}
