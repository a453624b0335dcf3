package model

import "time"

// Tick represents a single market data tick from the forwardtesting-data
// stream. CumulativeVolume is the exchange's running total for the session;
// the candle builder turns it into per-window volume via positive deltas.
type Tick struct {
	ScripCode    string    `json:"scrip_code"`
	Exchange     string    `json:"exchange"`
	ExchangeType string    `json:"exchange_type"`
	LastPrice    float64   `json:"last_price"`
	Open         float64   `json:"open"` // exchange-reported session open
	High         float64   `json:"high"` // exchange-reported session high
	Low          float64   `json:"low"`  // exchange-reported session low
	CumVolume    int64     `json:"cum_volume"`
	EventTS      time.Time `json:"event_ts"`
}

// Key returns the instrument key "exchange:scrip".
func (t *Tick) Key() string {
	return t.Exchange + ":" + t.ScripCode
}
