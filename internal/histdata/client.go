// Package histdata fetches stored 1-minute candles from the historical data
// service. The live engine uses it to warm up gate windows on admission; the
// backtest engine replays whole sessions through it.
package histdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trade-enginev1/internal/markethours"
	"trade-enginev1/internal/model"
)

// Config configures the history client.
type Config struct {
	BaseURL string // e.g. "http://localhost:8086"
	Timeout time.Duration
}

// Client fetches intraday candles over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a history client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// wireCandle mirrors the history service's candle record.
type wireCandle struct {
	Timestamp int64   `json:"timestamp"` // epoch millis, bucket start
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

type historyResponse struct {
	Candles []wireCandle `json:"candles"`
}

// Intraday1m returns the session's 1-minute candles for an instrument,
// time-ordered. Candles outside the requested date are dropped.
func (c *Client) Intraday1m(ctx context.Context, exchange, scripCode string, date time.Time) ([]model.Candle, error) {
	url := fmt.Sprintf("%s/history/%s:%s/1m?date=%s",
		c.baseURL, exchange, scripCode, date.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history fetch %s:%s: %w", exchange, scripCode, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history fetch %s:%s: status %d", exchange, scripCode, resp.StatusCode)
	}

	var hr historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return nil, fmt.Errorf("history decode: %w", err)
	}

	day := markethours.TradingDate(date)
	out := make([]model.Candle, 0, len(hr.Candles))
	for _, w := range hr.Candles {
		start := time.UnixMilli(w.Timestamp).In(markethours.IST)
		if !markethours.TradingDate(start).Equal(day) {
			continue
		}
		out = append(out, model.Candle{
			ScripCode: scripCode,
			Exchange:  exchange,
			Start:     start,
			End:       start.Add(time.Minute),
			Open:      w.Open,
			High:      w.High,
			Low:       w.Low,
			Close:     w.Close,
			Volume:    w.Volume,
		})
	}
	return out, nil
}
