// Package ws ingests the forwardtesting-data tick feed over a websocket.
// The live engine normally trades off the closed-candle stream; the tick
// path exists for deployments that run against the raw feed and build
// candles locally.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"trade-enginev1/internal/markethours"
	"trade-enginev1/internal/model"
)

// IngestConfig configures the tick feed connection.
type IngestConfig struct {
	URL        string
	AuthToken  string        // sent as a bearer header when non-empty
	Backoff    time.Duration // initial reconnect backoff, default 1s
	MaxBackoff time.Duration // default 30s
}

// Ingest connects to the tick websocket and pushes normalized ticks into a
// channel. Reconnects with capped exponential backoff until ctx is cancelled.
type Ingest struct {
	cfg    IngestConfig
	dialer *websocket.Dialer

	// Metrics hooks (optional)
	OnReconnect   func()
	OnDroppedTick func()
}

// New creates a tick feed ingester.
func New(cfg IngestConfig) *Ingest {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Ingest{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run streams ticks into out until ctx is cancelled. The channel send is
// non-blocking: a full channel drops the tick, the feed must never stall
// behind a slow consumer.
func (ing *Ingest) Run(ctx context.Context, out chan<- model.Tick) {
	backoff := ing.cfg.Backoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := ing.dial(ctx)
		if err != nil {
			slog.Warn("tick feed dial failed", "url", ing.cfg.URL, "retry_in", backoff.String(), "err", err)
			if ing.OnReconnect != nil {
				ing.OnReconnect()
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < ing.cfg.MaxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = ing.cfg.Backoff
		slog.Info("tick feed connected", "url", ing.cfg.URL)

		ing.pump(ctx, conn, out)
		conn.Close()
	}
}

func (ing *Ingest) dial(ctx context.Context) (*websocket.Conn, error) {
	var hdr map[string][]string
	if ing.cfg.AuthToken != "" {
		hdr = map[string][]string{"Authorization": {"Bearer " + ing.cfg.AuthToken}}
	}
	conn, _, err := ing.dialer.DialContext(ctx, ing.cfg.URL, hdr)
	return conn, err
}

func (ing *Ingest) pump(ctx context.Context, conn *websocket.Conn, out chan<- model.Tick) {
	// Unblock ReadMessage when ctx dies.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("tick feed read failed", "err", err)
				if ing.OnReconnect != nil {
					ing.OnReconnect()
				}
			}
			return
		}

		tick, err := decodeTick(payload, time.Now())
		if err != nil {
			slog.Warn("tick feed bad payload", "err", err)
			continue
		}

		select {
		case out <- tick:
		default:
			if ing.OnDroppedTick != nil {
				ing.OnDroppedTick()
			}
		}
	}
}

var errBadTick = errors.New("tick missing token or price")

// wireTick is the forwardtesting-data payload shape. The feed reports the
// instrument token as an integer and the event time under either tickDt or
// time, as epoch milliseconds or an ISO-8601 UTC string.
type wireTick struct {
	Token         int64           `json:"Token"`
	LastRate      float64         `json:"LastRate"`
	OpenRate      float64         `json:"OpenRate"`
	High          float64         `json:"High"`
	Low           float64         `json:"Low"`
	TotalQuantity int64           `json:"TotalQuantity"`
	Exch          string          `json:"Exch"`
	ExchType      string          `json:"ExchType"`
	TickDt        json.RawMessage `json:"tickDt"`
	Time          json.RawMessage `json:"time"`
}

// decodeTick normalizes one feed payload into the internal tick form, with
// the event time converted to IST. A payload without a usable timestamp
// gets the receive time.
func decodeTick(payload []byte, received time.Time) (model.Tick, error) {
	var w wireTick
	if err := json.Unmarshal(payload, &w); err != nil {
		return model.Tick{}, err
	}
	if w.Token == 0 || w.LastRate <= 0 {
		return model.Tick{}, errBadTick
	}
	ts := parseEventTime(w.TickDt)
	if ts.IsZero() {
		ts = parseEventTime(w.Time)
	}
	if ts.IsZero() {
		ts = received
	}
	return model.Tick{
		ScripCode:    strconv.FormatInt(w.Token, 10),
		Exchange:     w.Exch,
		ExchangeType: w.ExchType,
		LastPrice:    w.LastRate,
		Open:         w.OpenRate,
		High:         w.High,
		Low:          w.Low,
		CumVolume:    w.TotalQuantity,
		EventTS:      ts.In(markethours.IST),
	}, nil
}

// parseEventTime accepts epoch milliseconds (bare or quoted) or an ISO
// timestamp. Returns the zero time when raw holds neither.
func parseEventTime(raw json.RawMessage) time.Time {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
