// Package pivot provides a read-through cache over the remote pivot-level
// service. Entries are keyed by (instrument, trading date) and expire at
// session end; a populated entry is immutable for the session.
package pivot

import (
	"encoding/json"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"trade-enginev1/internal/markethours"
)

// ErrUnavailable is returned when the pivot service cannot serve a level.
// Callers must fall back to the pre-computed hint carried on the signal.
var ErrUnavailable = errors.New("pivot service unavailable")

// levelsResponse mirrors the service payload: pivot levels across
// timeframes, keyed "daily"/"weekly"/..., each with pivot + S/R sets.
type levelsResponse struct {
	Levels map[string]struct {
		Pivot       float64   `json:"pivot"`
		Supports    []float64 `json:"supports"`
		Resistances []float64 `json:"resistances"`
	} `json:"levels"`
}

type cacheEntry struct {
	pivot     float64
	expiresAt time.Time
}

// Client is the read-through pivot cache. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a pivot client against baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   make(map[string]cacheEntry),
	}
}

// DailyPivot returns the daily pivot for the instrument, caching per
// (instrument, trading date). On any remote failure it returns
// ErrUnavailable; no stale value is ever served past session end.
func (c *Client) DailyPivot(ctx context.Context, exchange, scripCode string, currentPrice float64) (float64, error) {
	key := cacheKey(exchange, scripCode, markethours.TradingDate(time.Now()))

	c.mu.RLock()
	e, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.pivot, nil
	}

	p, err := c.fetch(ctx, exchange, scripCode, currentPrice)
	if err != nil {
		slog.Warn("pivot lookup failed", "scrip", scripCode, "err", err)
		return 0, ErrUnavailable
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{pivot: p, expiresAt: markethours.SessionEnd(exchange, time.Now())}
	c.mu.Unlock()
	return p, nil
}

// Ping checks pivot-service reachability for health probes.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("pivot service status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, exchange, scripCode string, currentPrice float64) (float64, error) {
	u := fmt.Sprintf("%s/pivots/calculate-targets/%s?currentPrice=%s&signalType=%s",
		c.baseURL, url.PathEscape(scripCode),
		url.QueryEscape(fmt.Sprintf("%.2f", currentPrice)), url.QueryEscape(exchange))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pivot fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("pivot fetch: status %d", resp.StatusCode)
	}

	var lr levelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return 0, fmt.Errorf("pivot decode: %w", err)
	}
	daily, ok := lr.Levels["daily"]
	if !ok || daily.Pivot <= 0 {
		return 0, fmt.Errorf("pivot fetch: no daily level for %s", scripCode)
	}
	return daily.Pivot, nil
}

func cacheKey(exchange, scrip string, date time.Time) string {
	return exchange + ":" + scrip + ":" + date.Format("2006-01-02")
}
