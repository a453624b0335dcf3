package closedetector

import (
	"testing"
	"time"
)

func TestDetector_PriceStabilization(t *testing.T) {
	closeTime := time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC)
	d := New(closeTime)
	d.StableFor = 3 * time.Second

	// Before close: never disconnect
	if d.Observe(500.00, closeTime.Add(-1*time.Minute)) {
		t.Error("should not disconnect before close")
	}

	// After close: changing prices do not trigger disconnect
	if d.Observe(501.00, closeTime.Add(1*time.Second)) {
		t.Error("should not disconnect when price is changing")
	}
	if d.Observe(502.00, closeTime.Add(2*time.Second)) {
		t.Error("should not disconnect when price is changing")
	}

	// Stable price but not long enough
	if d.Observe(502.00, closeTime.Add(3*time.Second)) {
		t.Error("should not disconnect yet, only 1s stable")
	}

	// Stable for StableFor (3s)
	if !d.Observe(502.00, closeTime.Add(5*time.Second)) {
		t.Error("should disconnect once price held for 3s")
	}

	if d.ClosingPrice() != 502.00 {
		t.Errorf("expected closing price 502.00, got %v", d.ClosingPrice())
	}
}

func TestDetector_HardDeadline(t *testing.T) {
	closeTime := time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC)
	d := New(closeTime)
	d.MaxGrace = 2 * time.Minute

	// Price keeps changing but within the grace period
	if d.Observe(501.00, closeTime.Add(1*time.Minute)) {
		t.Error("should not disconnect before hard deadline")
	}

	// Past the hard deadline: disconnect even though the price changed
	if !d.Observe(502.00, closeTime.Add(3*time.Minute)) {
		t.Error("should disconnect past the hard deadline")
	}
}

func TestDetector_PriceChangeResetsStability(t *testing.T) {
	closeTime := time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC)
	d := New(closeTime)
	d.StableFor = 2 * time.Second

	d.Observe(500.00, closeTime.Add(1*time.Second))
	d.Observe(500.00, closeTime.Add(2*time.Second))

	// Price change resets the stability timer
	d.Observe(501.00, closeTime.Add(2500*time.Millisecond))

	if d.Observe(501.00, closeTime.Add(3*time.Second)) {
		t.Error("should not disconnect, only 0.5s since price change")
	}

	if !d.Observe(501.00, closeTime.Add(4500*time.Millisecond)) {
		t.Error("should disconnect, 2s stable after the price change")
	}
}
