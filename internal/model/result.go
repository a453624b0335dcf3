package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies a trade lifecycle event on the results stream.
type EventKind string

const (
	EventSignalAdmitted EventKind = "SIGNAL_ADMITTED"
	EventTradeEntered   EventKind = "TRADE_ENTERED"
	EventPartialExit    EventKind = "PARTIAL_EXIT"
	EventTradeClosed    EventKind = "TRADE_CLOSED"
	EventTradeCancelled EventKind = "TRADE_CANCELLED"
	EventTradeFailed    EventKind = "TRADE_FAILED"
)

// ExitReason codes carried on terminal results.
const (
	ExitStopLoss     = "STOP_LOSS"
	ExitTarget       = "TARGET"
	ExitTrailingStop = "TRAILING_STOP"
	ExitMarketClose  = "MARKET_CLOSE"
	ExitSignalTTL    = "SIGNAL_TTL"
	ExitOrderFailed  = "ORDER_FAILED"
)

// PartialFill is one leg of a multi-leg exit (the T1 50% partial).
type PartialFill struct {
	Price float64   `json:"price"`
	Qty   int64     `json:"qty"`
	At    time.Time `json:"at"`
}

// TradeResult is the immutable terminal record of a trade or backtest.
// Realized P&L is decimal: float drift is acceptable in candles, never in
// money aggregation.
type TradeResult struct {
	TradeID      string          `json:"trade_id"`
	SignalKey    string          `json:"signal_key"` // idempotency key of the admitting signal
	ScripCode    string          `json:"scrip_code"`
	Exchange     string          `json:"exchange"`
	Direction    Direction       `json:"direction"`
	Status       TradeStatus     `json:"status"`
	EntryPrice   float64         `json:"entry_price"`
	EntryTime    time.Time       `json:"entry_time"`
	ExitPrice    float64         `json:"exit_price"`
	ExitTime     time.Time       `json:"exit_time"`
	PositionSize int64           `json:"position_size"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	ExitReason   string          `json:"exit_reason"`
	Partials     []PartialFill   `json:"partials,omitempty"`
	Backtest     bool            `json:"backtest,omitempty"`
	TraceID      string          `json:"trace_id,omitempty"`
}

// Event is one lifecycle emission on the trade-results stream. Keyed by
// TradeID once a trade exists, by SignalKey before entry, so downstream
// consumers can deduplicate at-least-once delivery.
type Event struct {
	Kind      EventKind    `json:"kind"`
	TradeID   string       `json:"trade_id,omitempty"`
	SignalKey string       `json:"signal_key"`
	ScripCode string       `json:"scrip_code"`
	Exchange  string       `json:"exchange"`
	At        time.Time    `json:"at"`
	Price     float64      `json:"price,omitempty"`
	Qty       int64        `json:"qty,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Result    *TradeResult `json:"result,omitempty"`
	TraceID   string       `json:"trace_id,omitempty"`
}

// DedupKey is the stream partition key for downstream deduplication.
func (e *Event) DedupKey() string {
	if e.TradeID != "" {
		return e.TradeID
	}
	return e.SignalKey
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// PnL computes signed realized P&L for one fill leg using decimal math.
func PnL(d Direction, entry, exit float64, qty int64) decimal.Decimal {
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	q := decimal.NewFromInt(qty)
	if d == DirectionLong {
		return x.Sub(e).Mul(q)
	}
	return e.Sub(x).Mul(q)
}
