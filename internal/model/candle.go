package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Candle represents a closed OHLCV candle for a single instrument.
// Start is the bucket start; End-Start always equals the resolution.
type Candle struct {
	ScripCode string    `json:"scrip_code"`
	Exchange  string    `json:"exchange"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Ticks     int       `json:"ticks,omitempty"`
}

// Key returns a unique key for this candle's instrument: "exchange:scrip".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.ScripCode
}

// Resolution is the candle's window length.
func (c *Candle) Resolution() time.Duration {
	return c.End.Sub(c.Start)
}

// Validate checks the OHLC invariants. A violating candle is still usable
// (callers log and count it as a defect) but must never be silently trusted.
func (c *Candle) Validate(resolution time.Duration) error {
	if c.Low > c.Open || c.Low > c.Close || c.Low > c.High {
		return fmt.Errorf("candle %s %v: low %.2f above open/close/high", c.Key(), c.Start, c.Low)
	}
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("candle %s %v: high %.2f below open/close", c.Key(), c.Start, c.High)
	}
	if got := c.End.Sub(c.Start); got != resolution {
		return fmt.Errorf("candle %s %v: window %v, want %v", c.Key(), c.Start, got, resolution)
	}
	return nil
}

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Body returns the absolute open-close body size.
func (c *Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
