package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// TradingMode selects how far order intents travel.
//
//	LIVE       real broker orders
//	SIMULATION paper broker with simulated fills
//	SHADOW     full pipeline, orders logged instead of placed
//	SILENT     no orders at all, signals still processed and journaled
type TradingMode string

const (
	ModeLive       TradingMode = "LIVE"
	ModeSimulation TradingMode = "SIMULATION"
	ModeShadow     TradingMode = "SHADOW"
	ModeSilent     TradingMode = "SILENT"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Mode TradingMode

	// Broker credentials (required in LIVE mode only)
	BrokerBaseURL    string
	BrokerAPIKey     string
	BrokerClientCode string
	BrokerPassword   string
	BrokerTOTPSecret string
	BrokerStatusWS   string // order status websocket, empty disables

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string

	// Streams
	SignalStream  string
	CandleStream  string
	ResultStream  string
	ConsumerGroup string
	ConsumerName  string

	// External services
	PivotBaseURL   string
	HistoryBaseURL string

	// Direct tick feed (optional; empty = trade off the candle stream only)
	TickWSURL   string
	TickWSToken string

	// Routing
	LiveAgeThreshold time.Duration
	DedupTTL         time.Duration

	// Trade management
	SignalTTL        time.Duration
	CandleResolution time.Duration

	// Sizing (rupees / percentages)
	Capital         float64
	MaxRiskPct      float64
	MaxSinglePct    float64
	MaxPositionSize int64

	// Broker gateway
	OrderMaxAttempts   int
	BreakerWindow      int
	BreakerFailureRate float64
	BreakerResetAfter  time.Duration
	PaperSlippageBps   int64

	// Backtest
	BacktestSlippageBps float64
	BacktestWorkers     int

	// Journal
	ResultRetention time.Duration

	// Alerting
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		Mode: TradingMode(strings.ToUpper(getEnv("TRADING_MODE", string(ModeSimulation)))),

		BrokerBaseURL:    getEnv("BROKER_BASE_URL", ""),
		BrokerAPIKey:     getEnv("BROKER_API_KEY", ""),
		BrokerClientCode: getEnv("BROKER_CLIENT_CODE", ""),
		BrokerPassword:   getEnv("BROKER_PASSWORD", ""),
		BrokerTOTPSecret: getEnv("BROKER_TOTP_SECRET", ""),
		BrokerStatusWS:   getEnv("BROKER_STATUS_WS", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/trades.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),

		SignalStream:  getEnv("SIGNAL_STREAM", "trading-signals"),
		CandleStream:  getEnv("CANDLE_STREAM", "5-min-candle"),
		ResultStream:  getEnv("RESULT_STREAM", "trade-results"),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "trade-engine"),
		ConsumerName:  getEnv("CONSUMER_NAME", hostnameOr("engine-1")),

		PivotBaseURL:   getEnv("PIVOT_BASE_URL", "http://localhost:8085"),
		HistoryBaseURL: getEnv("HISTORY_BASE_URL", "http://localhost:8086"),

		TickWSURL:   getEnv("TICK_WS_URL", ""),
		TickWSToken: getEnv("TICK_WS_TOKEN", ""),

		LiveAgeThreshold: getDuration("LIVE_AGE_THRESHOLD", 120*time.Second),
		DedupTTL:         getDuration("DEDUP_TTL", 30*time.Minute),

		SignalTTL:        getDuration("SIGNAL_TTL", 30*time.Minute),
		CandleResolution: getDuration("CANDLE_RESOLUTION", 5*time.Minute),

		Capital:         getFloat("CAPITAL", 1_000_000),
		MaxRiskPct:      getFloat("MAX_RISK_PCT", 1.0),
		MaxSinglePct:    getFloat("MAX_SINGLE_PCT", 25.0),
		MaxPositionSize: int64(getInt("MAX_POSITION_SIZE", 10_000)),

		OrderMaxAttempts:   getInt("ORDER_MAX_ATTEMPTS", 3),
		// Window small enough that one exhausted retry burst trips the breaker.
		BreakerWindow:      getInt("BREAKER_WINDOW", 5),
		BreakerFailureRate: getFloat("BREAKER_FAILURE_RATE", 0.5),
		BreakerResetAfter:  getDuration("BREAKER_RESET_AFTER", 30*time.Second),
		PaperSlippageBps:   int64(getInt("PAPER_SLIPPAGE_BPS", 5)),

		BacktestSlippageBps: getFloat("BACKTEST_SLIPPAGE_BPS", 5),
		BacktestWorkers:     getInt("BACKTEST_WORKERS", 2),

		ResultRetention: getDuration("RESULT_RETENTION", 90*24*time.Hour),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("ALERT_WEBHOOK_URL", ""),
	}

	switch cfg.Mode {
	case ModeLive, ModeSimulation, ModeShadow, ModeSilent:
	default:
		log.Fatalf("[config] unknown TRADING_MODE %q", cfg.Mode)
	}
	if cfg.Mode == ModeLive {
		cfg.BrokerBaseURL = mustEnv("BROKER_BASE_URL")
		cfg.BrokerAPIKey = mustEnv("BROKER_API_KEY")
		cfg.BrokerClientCode = mustEnv("BROKER_CLIENT_CODE")
		cfg.BrokerPassword = mustEnv("BROKER_PASSWORD")
		cfg.BrokerTOTPSecret = mustEnv("BROKER_TOTP_SECRET")
	}
	return cfg
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}

func hostnameOr(fallback string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallback
	}
	return h
}
