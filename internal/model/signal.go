package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Direction is the side of a trade derived from the raw signal type.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// ParseDirection normalizes the textual signal token into a Direction.
// Producers emit a variety of labels ("BUY", "BULLISH_BREAKOUT", "SELL", ...);
// anything not recognisably long or short is an error.
func ParseDirection(raw string) (Direction, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case s == "LONG" || s == "BUY" || strings.Contains(s, "BULL") || strings.Contains(s, "BREAKOUT_UP"):
		return DirectionLong, nil
	case s == "SHORT" || s == "SELL" || strings.Contains(s, "BEAR") || strings.Contains(s, "BREAKOUT_DOWN"):
		return DirectionShort, nil
	default:
		return "", fmt.Errorf("unknown signal direction %q", raw)
	}
}

// Signal is an immutable trading signal as received from the signal stream.
// Prices are float64 rupees; money aggregation downstream uses decimal.
type Signal struct {
	ScripCode    string    `json:"scrip_code"`
	CompanyName  string    `json:"company_name"`
	Exchange     string    `json:"exchange"`      // "N" (NSE), "M" (MCX), ...
	ExchangeType string    `json:"exchange_type"` // "C" equity cash, "D" derivative
	Direction    Direction `json:"direction"`
	SignalKind   string    `json:"signal_kind"` // raw producer label, kept for dedup + logs

	EntryHint    float64    `json:"entry_hint"`
	StopLossHint float64    `json:"stop_loss_hint"`
	Targets      [4]float64 `json:"targets"` // T1..T4, zero = unset

	OriginTS time.Time `json:"origin_ts"` // producer wall time
	IngestTS time.Time `json:"ingest_ts"` // local receive time

	Confidence float64 `json:"confidence,omitempty"`
	RiskReward float64 `json:"risk_reward,omitempty"`
	ATR        float64 `json:"atr,omitempty"`
	VolumeT    float64 `json:"volume_t,omitempty"`
	SurgeT     float64 `json:"surge_t,omitempty"`
	OIChange   float64 `json:"oi_change,omitempty"`
	PivotHint  float64 `json:"pivot_hint,omitempty"` // pre-computed daily pivot, 0 = absent
	Rationale  string  `json:"rationale,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
}

// Key returns the instrument key "exchange:scrip".
func (s *Signal) Key() string {
	return s.Exchange + ":" + s.ScripCode
}

// IdempotencyKey identifies a signal for deduplication. Two signals with the
// same scrip, direction, origin timestamp and kind are the same signal.
func (s *Signal) IdempotencyKey() string {
	return fmt.Sprintf("sig:%s:%s:%d:%s", s.ScripCode, s.Direction, s.OriginTS.UnixMilli(), s.SignalKind)
}

// Age is the signed signal age at ingest. Negative means the producer
// timestamp is in the future relative to our clock.
func (s *Signal) Age() time.Duration {
	return s.IngestTS.Sub(s.OriginTS)
}

// FirstTarget returns the first non-zero target, or 0 if none is set.
func (s *Signal) FirstTarget() float64 {
	for _, t := range s.Targets {
		if t > 0 {
			return t
		}
	}
	return 0
}

// IsDerivative reports whether the instrument is a derivative contract.
func (s *Signal) IsDerivative() bool {
	return s.ExchangeType == "D"
}

// JSON returns the JSON-encoded signal (ignoring errors for hot-path usage).
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
