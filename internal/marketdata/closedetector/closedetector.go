// Package closedetector detects the session closing price by observing
// post-close tick price stability. When the last traded price stops changing
// for StableFor, the closing price is considered captured and the tick feed
// can be disconnected.
package closedetector

import (
	"log/slog"
	"time"
)

// Detector observes ticks after the session close time and decides when the
// closing price has been captured.
type Detector struct {
	lastPrice   float64
	stableSince time.Time
	closeTime   time.Time

	// StableFor is how long the price must remain constant to count as the
	// closing price. Default 30s.
	StableFor time.Duration

	// MaxGrace is the hard deadline after closeTime. If the price has not
	// stabilized by then, disconnect anyway. Default 5m.
	MaxGrace time.Duration
}

// New creates a Detector for the given close time.
func New(closeTime time.Time) *Detector {
	return &Detector{
		closeTime: closeTime,
		StableFor: 30 * time.Second,
		MaxGrace:  5 * time.Minute,
	}
}

// IsPostClose reports whether now is after the session close time.
func (d *Detector) IsPostClose(now time.Time) bool {
	return now.After(d.closeTime)
}

// Observe records a tick price and reports whether the feed should
// disconnect: the price has stabilized or the hard deadline passed.
func (d *Detector) Observe(price float64, now time.Time) bool {
	if now.After(d.closeTime.Add(d.MaxGrace)) {
		slog.Info("closing price grace period expired, disconnecting", "grace", d.MaxGrace.String())
		return true
	}

	if !d.IsPostClose(now) {
		d.lastPrice = price
		return false
	}

	if price != d.lastPrice {
		d.lastPrice = price
		d.stableSince = now
		return false
	}

	if d.stableSince.IsZero() {
		d.stableSince = now
		return false
	}

	if now.Sub(d.stableSince) >= d.StableFor {
		slog.Info("closing price captured", "price", d.lastPrice, "stable_for", d.StableFor.String())
		return true
	}
	return false
}

// ClosingPrice returns the last observed price.
func (d *Detector) ClosingPrice() float64 {
	return d.lastPrice
}
