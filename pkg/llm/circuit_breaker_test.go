package llm

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state to be CircuitClosed, got %v", cb.State())
	}

	allowed, err := cb.Allow()
	if !allowed || err != nil {
		t.Errorf("expected closed circuit to allow requests, got allowed=%v err=%v", allowed, err)
	}
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 3, ResetAfter: 30 * time.Second})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit to stay closed below threshold, got %v", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected CircuitOpen after 3 failures, got %v", cb.State())
	}

	allowed, err := cb.Allow()
	if allowed {
		t.Error("expected open circuit to reject requests")
	}
	if !errors.Is(err, ErrCircuitOpen) || !strings.Contains(err.Error(), "failed 3 times") {
		t.Errorf("expected circuit breaker open error, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 3, ResetAfter: 30 * time.Second})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	if cb.ConsecutiveFailures() != 1 {
		t.Errorf("expected 1 consecutive failure after reset, got %d", cb.ConsecutiveFailures())
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected CircuitClosed, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, ResetAfter: 10 * time.Second})
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	if allowed, _ := cb.Allow(); allowed {
		t.Fatal("expected open circuit to reject before reset period")
	}

	now = now.Add(11 * time.Second)
	if allowed, err := cb.Allow(); !allowed {
		t.Fatalf("expected probe to be allowed after reset period, got %v", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected CircuitHalfOpen, got %v", cb.State())
	}

	if allowed, _ := cb.Allow(); allowed {
		t.Error("expected second request during probe to be rejected")
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Errorf("expected failed probe to reopen circuit, got %v", cb.State())
	}

	now = now.Add(11 * time.Second)
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("expected successful probe to close circuit, got %v", cb.State())
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(99): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  2,
		ResetAfter: 10 * time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.now = func() time.Time { return now }

	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()

	now = now.Add(11 * time.Second)
	cb.Allow()
	cb.RecordSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}
