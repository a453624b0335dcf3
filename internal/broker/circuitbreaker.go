package broker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // Normal operation — requests pass through
	StateOpen     State = 1 // Circuit tripped — requests rejected immediately
	StateHalfOpen State = 2 // Testing — one request allowed through to probe
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("broker circuit breaker is open")

// CircuitBreaker trips on the failure rate over a sliding window of recent
// calls. While open, calls fail fast; after resetTimeout one probe is let
// through (half-open). A successful probe closes the breaker, a failed one
// reopens it.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	window      []bool // ring of recent outcomes, true = failure
	idx         int
	filled      int
	minCalls    int     // minimum calls before the rate is meaningful
	failureRate float64 // trip threshold, e.g. 0.5
	resetAfter  time.Duration
	openedAt    time.Time

	// OnStateChange is called on transitions (optional).
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a sliding-window breaker.
// windowSize: number of recent calls considered (e.g., 10)
// failureRate: fraction of failures that trips it (e.g., 0.5)
// resetAfter: open duration before the half-open probe (e.g., 30s)
func NewCircuitBreaker(windowSize int, failureRate float64, resetAfter time.Duration) *CircuitBreaker {
	if windowSize < 1 {
		windowSize = 1
	}
	return &CircuitBreaker{
		state:       StateClosed,
		window:      make([]bool, windowSize),
		minCalls:    windowSize / 2,
		failureRate: failureRate,
		resetAfter:  resetAfter,
	}
}

// Execute runs fn through the circuit breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) > cb.resetAfter {
			cb.transition(StateHalfOpen)
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	case StateHalfOpen:
		// Allow the probe call through (one at a time via mutex)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil
	cb.record(failed)

	if failed {
		if cb.state == StateHalfOpen {
			cb.transition(StateOpen)
		} else if cb.state == StateClosed && cb.tripped() {
			cb.transition(StateOpen)
		}
		return err
	}

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	return nil
}

// CurrentState returns the breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.window[cb.idx] = failed
	cb.idx = (cb.idx + 1) % len(cb.window)
	if cb.filled < len(cb.window) {
		cb.filled++
	}
}

func (cb *CircuitBreaker) tripped() bool {
	if cb.filled < cb.minCalls || cb.filled == 0 {
		return false
	}
	fails := 0
	for i := 0; i < cb.filled; i++ {
		if cb.window[i] {
			fails++
		}
	}
	return float64(fails)/float64(cb.filled) >= cb.failureRate
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
	case StateClosed:
		// Forget old outcomes so a recovered broker starts clean
		cb.filled = 0
		cb.idx = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
