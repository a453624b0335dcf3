package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the trading core from concrete transports
// (HTTP broker, Redis bus, SQLite repository). Production and test wiring
// swap implementations.

// Broker places and cancels orders. Implementations must be idempotent on
// Order.ClientToken: re-submitting the same token never duplicates an order.
type Broker interface {
	// Place submits an order and returns the broker acknowledgement.
	Place(ctx context.Context, o Order) (OrderAck, error)

	// Cancel cancels a previously placed order.
	Cancel(ctx context.Context, brokerOrderID string) error

	// Ping checks broker liveness.
	Ping(ctx context.Context) error
}

// PivotSource resolves the daily pivot for an instrument.
type PivotSource interface {
	// DailyPivot returns the pivot price, or an error matching
	// pivot.ErrUnavailable when the remote service fails; callers fall
	// back to signal hints.
	DailyPivot(ctx context.Context, exchange, scripCode string, currentPrice float64) (float64, error)
}

// HistoricalCandles fetches stored 1-minute candles for a session date.
type HistoricalCandles interface {
	Intraday1m(ctx context.Context, exchange, scripCode string, date time.Time) ([]Candle, error)
}

// TradeRepository persists terminal trade records.
type TradeRepository interface {
	SaveResult(ctx context.Context, r TradeResult) error
	Close() error
}

// ResultPublisher emits lifecycle events to the durable results stream.
type ResultPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// DeadLetter is one dead-lettered input record with failure context.
type DeadLetter struct {
	Source    string    `json:"source"` // stream the record came from
	Offset    string    `json:"offset,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// DeadLetterSink forwards unprocessable records to the side channel.
// Implementations never re-inject into the normal flow.
type DeadLetterSink interface {
	Publish(ctx context.Context, dl DeadLetter) error
}

// IdempotencyStore is a bounded TTL set used for signal deduplication.
type IdempotencyStore interface {
	// FirstSeen records key with the given TTL and reports whether this
	// was the first sighting.
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
