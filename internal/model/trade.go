package model

import (
	"sync"
	"time"
)

// TradeStatus is the lifecycle state of a watchlist entry or trade.
type TradeStatus string

const (
	StatusWaitingForEntry TradeStatus = "WAITING_FOR_ENTRY"
	StatusActive          TradeStatus = "ACTIVE"
	StatusPartialExit     TradeStatus = "PARTIAL_EXIT"
	StatusClosedProfit    TradeStatus = "CLOSED_PROFIT"
	StatusClosedLoss      TradeStatus = "CLOSED_LOSS"
	StatusClosedTime      TradeStatus = "CLOSED_TIME"
	StatusCancelled       TradeStatus = "CANCELLED"
	StatusFailed          TradeStatus = "FAILED"
)

// Terminal reports whether the status is a terminal one.
func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusClosedProfit, StatusClosedLoss, StatusClosedTime, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Meta is a small concurrent metadata dictionary attached to watchlist
// entries and trades (breach latches, potential RR, ad-hoc flags).
type Meta struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewMeta creates an empty metadata dictionary.
func NewMeta() *Meta {
	return &Meta{m: make(map[string]any)}
}

// Set stores a key.
func (m *Meta) Set(key string, v any) {
	m.mu.Lock()
	m.m[key] = v
	m.mu.Unlock()
}

// Get returns the value for key, or nil.
func (m *Meta) Get(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.m[key]
}

// Bool returns the value for key as a bool (false when absent or non-bool).
func (m *Meta) Bool(key string) bool {
	v, _ := m.Get(key).(bool)
	return v
}

// Float returns the value for key as a float64 (0 when absent or non-float).
func (m *Meta) Float(key string) float64 {
	v, _ := m.Get(key).(float64)
	return v
}

// Well-known metadata keys.
const (
	MetaBreachedPivot = "hasBreachedPivot"
	MetaPotentialRR   = "potentialRR"
)

// WatchlistEntry is an admitted signal being monitored for entry
// confirmation. Owned exclusively by the trade manager after admission.
type WatchlistEntry struct {
	Signal     Signal
	Status     TradeStatus
	AdmittedAt time.Time
	Meta       *Meta
}

// NewWatchlistEntry derives a watchlist entry from an admitted signal.
func NewWatchlistEntry(sig Signal, now time.Time) *WatchlistEntry {
	return &WatchlistEntry{
		Signal:     sig,
		Status:     StatusWaitingForEntry,
		AdmittedAt: now,
		Meta:       NewMeta(),
	}
}

// ActiveTrade is the single open position, post-entry, pre-terminal.
type ActiveTrade struct {
	TradeID       string
	Signal        Signal
	EntryPrice    float64
	EntryTime     time.Time
	PositionSize  int64
	StopLoss      float64
	Targets       [4]float64
	HighSince     float64 // highest high since entry
	LowSince      float64 // lowest low since entry
	Target1Hit    bool
	Partials      []PartialFill
	BrokerOrderID string
	Status        TradeStatus
	Meta          *Meta
}

// Direction is the trade's side, taken from the admitting signal.
func (t *ActiveTrade) Direction() Direction { return t.Signal.Direction }

// Key returns the instrument key of the position.
func (t *ActiveTrade) Key() string { return t.Signal.Key() }

// RemainingQty is the open quantity accounting for the 50% partial at T1.
func (t *ActiveTrade) RemainingQty() int64 {
	if t.Target1Hit {
		return t.PositionSize - t.PositionSize/2
	}
	return t.PositionSize
}
