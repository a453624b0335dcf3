package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trade engine.
type Metrics struct {
	SignalsTotal    *prometheus.CounterVec // labels: route=live|backtest
	SignalsRejected *prometheus.CounterVec // labels: category
	WatchlistSize   prometheus.Gauge

	TradesEntered prometheus.Counter
	TradesClosed  *prometheus.CounterVec // labels: status
	PartialExits  prometheus.Counter

	BrokerRetries       prometheus.Counter
	BrokerOrderFailures prometheus.Counter
	BreakerState        prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips        prometheus.Counter

	ConsumerLag   *prometheus.GaugeVec // labels: stream
	CandleDefects prometheus.Counter

	ResultsBuffered prometheus.Counter
	ResultsDropped  prometheus.Counter

	// WinRate is derived from the closed-trade counters, never stored.
	WinRate prometheus.GaugeFunc

	won, lost atomic.Int64
}

// New registers and returns the engine metrics.
func New() *Metrics {
	m := &Metrics{
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_signals_total",
			Help: "Signals routed by destination",
		}, []string{"route"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_signals_rejected_total",
			Help: "Signals rejected at ingress by failure category",
		}, []string{"category"}),
		WatchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_watchlist_size",
			Help: "Entries currently waiting for confirmation",
		}),
		TradesEntered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_trades_entered_total",
			Help: "Positions opened",
		}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_trades_closed_total",
			Help: "Positions closed by terminal status",
		}, []string{"status"}),
		PartialExits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_partial_exits_total",
			Help: "Half-position exits booked at target 1",
		}),
		BrokerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_broker_retries_total",
			Help: "Broker order attempts retried after transient failure",
		}),
		BrokerOrderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_broker_order_failures_total",
			Help: "Broker orders failed terminally and dead-lettered",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_broker_breaker_state",
			Help: "Broker circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_broker_breaker_trips_total",
			Help: "Times the broker circuit breaker tripped open",
		}),
		ConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradeengine_consumer_lag",
			Help: "Pending stream records per consumer group",
		}, []string{"stream"}),
		CandleDefects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_candle_defects_total",
			Help: "Candles violating OHLC integrity",
		}),
		ResultsBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_results_buffered_total",
			Help: "Result events parked locally while Redis was unreachable",
		}),
		ResultsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_results_dropped_total",
			Help: "Result events dropped from a full local buffer",
		}),
	}
	m.WinRate = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tradeengine_win_rate",
		Help: "Won over closed (won+lost), derived",
	}, func() float64 {
		won, lost := m.won.Load(), m.lost.Load()
		if won+lost == 0 {
			return 0
		}
		return float64(won) / float64(won+lost)
	})

	prometheus.MustRegister(
		m.SignalsTotal,
		m.SignalsRejected,
		m.WatchlistSize,
		m.TradesEntered,
		m.TradesClosed,
		m.PartialExits,
		m.BrokerRetries,
		m.BrokerOrderFailures,
		m.BreakerState,
		m.BreakerTrips,
		m.ConsumerLag,
		m.CandleDefects,
		m.ResultsBuffered,
		m.ResultsDropped,
		m.WinRate,
	)
	return m
}

// RecordClose counts a terminal close for the derived win rate.
func (m *Metrics) RecordClose(won bool) {
	if won {
		m.won.Add(1)
	} else {
		m.lost.Add(1)
	}
}

// HealthStatus represents the engine's dependency health.
type HealthStatus struct {
	mu sync.RWMutex

	BrokerOK        bool      `json:"broker_ok"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	LastCandleTime  time.Time `json:"last_candle_time"`
	LastSignalTime  time.Time `json:"last_signal_time"`
	MarketOpen      bool      `json:"market_open"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetBrokerOK(v bool) {
	h.mu.Lock()
	h.BrokerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSignalTime(t time.Time) {
	h.mu.Lock()
	h.LastSignalTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, ping func(context.Context) error, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				if ping != nil {
					h.SetBrokerOK(ping(probeCtx) == nil)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || !h.SQLiteOK || !h.BrokerOK {
		overall = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overall = "unhealthy"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		BrokerOK        bool    `json:"broker_ok"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		MarketOpen      bool    `json:"market_open"`
		LastCandleTime  string  `json:"last_candle_time"`
		CandleAge       string  `json:"candle_age"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		BrokerOK:        h.BrokerOK,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		MarketOpen:      h.MarketOpen,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
