package broker

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(4, 0.5, 100*time.Millisecond)
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensOnFailureRate(t *testing.T) {
	cb := NewCircuitBreaker(4, 0.5, 100*time.Millisecond)
	errFail := errors.New("fail")

	// Window of 4 considers the rate meaningful after 2 calls
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Errorf("expected Open at 100%% failure rate, got %v", cb.CurrentState())
	}

	// Calls fail fast while open
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_OpensWithinRetryBudget(t *testing.T) {
	// Shipped defaults (BREAKER_WINDOW=5): a broker returning 503 for a
	// single exhausted retry burst of three attempts must leave the
	// breaker open, with later calls failing fast.
	cb := NewCircuitBreaker(5, 0.5, 100*time.Millisecond)
	errFail := errors.New("broker unavailable: 503")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); err == nil {
			t.Fatalf("attempt %d unexpectedly succeeded", i+1)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected Open after consecutive failures, got %v", cb.CurrentState())
	}
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_StaysClosedBelowRate(t *testing.T) {
	cb := NewCircuitBreaker(10, 0.5, 100*time.Millisecond)
	errFail := errors.New("fail")

	// 3 failures, 7 successes = 30% failure rate
	for i := 0; i < 10; i++ {
		cb.Execute(func() error {
			if i < 3 {
				return errFail
			}
			return nil
		})
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed at 30%% failure rate, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(2, 0.5, 50*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errFail })
	}
	if cb.CurrentState() != StateOpen {
		t.Fatal("expected Open")
	}

	time.Sleep(60 * time.Millisecond)

	// Probe succeeds and closes the circuit
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed after successful probe, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 0.5, 50*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errFail })
	}
	time.Sleep(60 * time.Millisecond)
	cb.Execute(func() error { return errFail })

	if cb.CurrentState() != StateOpen {
		t.Errorf("expected Open after failed probe, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker(2, 0.5, 50*time.Millisecond)
	var transitions []State
	cb.OnStateChange = func(from, to State) { transitions = append(transitions, to) }

	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errFail })
	}
	time.Sleep(60 * time.Millisecond)
	cb.Execute(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}
