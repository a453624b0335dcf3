package model

import "time"

// OrderSide is the broker-facing order side.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType selects the broker order variant.
type OrderType string

const (
	OrderMarket    OrderType = "MARKET"
	OrderLimit     OrderType = "LIMIT"
	OrderStopLimit OrderType = "STOP_LIMIT"
)

// Order is a broker order intent. ClientToken is a client-generated
// idempotency token: repeated submissions with the same token must not
// produce duplicate broker orders.
type Order struct {
	ClientToken  string    `json:"client_token"`
	ScripCode    string    `json:"scrip_code"`
	Exchange     string    `json:"exchange"`
	ExchangeType string    `json:"exchange_type"`
	Side         OrderSide `json:"side"`
	Type         OrderType `json:"type"`
	Qty          int64     `json:"qty"`
	LimitPrice   float64   `json:"limit_price,omitempty"`
	TriggerPrice float64   `json:"trigger_price,omitempty"`
	TraceID      string    `json:"trace_id,omitempty"`
}

// OrderAck is the broker's acknowledgement of a placed order.
type OrderAck struct {
	BrokerOrderID string    `json:"broker_order_id"`
	Status        string    `json:"status"`
	FillPrice     float64   `json:"fill_price,omitempty"`
	PlacedAt      time.Time `json:"placed_at"`
}

// EntrySide returns the order side opening a position in the direction.
func EntrySide(d Direction) OrderSide {
	if d == DirectionLong {
		return SideBuy
	}
	return SideSell
}

// ExitSide returns the order side closing a position in the direction.
func ExitSide(d Direction) OrderSide {
	if d == DirectionLong {
		return SideSell
	}
	return SideBuy
}
