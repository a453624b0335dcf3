package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"trade-enginev1/config"
	"trade-enginev1/internal/api"
	"trade-enginev1/internal/backtest"
	"trade-enginev1/internal/broker"
	"trade-enginev1/internal/histdata"
	"trade-enginev1/internal/logger"
	"trade-enginev1/internal/marketdata/agg"
	"trade-enginev1/internal/marketdata/closedetector"
	"trade-enginev1/internal/marketdata/ws"
	"trade-enginev1/internal/markethours"
	"trade-enginev1/internal/metrics"
	"trade-enginev1/internal/model"
	"trade-enginev1/internal/notification"
	"trade-enginev1/internal/pivot"
	"trade-enginev1/internal/router"
	redisstore "trade-enginev1/internal/store/redis"
	sqlitestore "trade-enginev1/internal/store/sqlite"
	"trade-enginev1/internal/trademan"
)

func main() {
	_ = godotenv.Load()
	logger.Init("liveengine", slog.LevelInfo)

	cfg := config.Load()
	slog.Info("starting", "mode", cfg.Mode, "signal_stream", cfg.SignalStream, "candle_stream", cfg.CandleStream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Redis ----
	rdb, err := redisstore.NewClient(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[liveengine] redis connect failed: %v", err)
	}
	defer rdb.Close()

	// ---- SQLite journal ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	repo, err := sqlitestore.Open(sqlitestore.RepositoryConfig{
		DBPath:    cfg.SQLitePath,
		Retention: cfg.ResultRetention,
	})
	if err != nil {
		log.Fatalf("[liveengine] sqlite open failed: %v", err)
	}
	defer repo.Close()
	go repo.RunPurge(ctx)

	// ---- Alerting ----
	var backends []notification.Notifier
	backends = append(backends, notification.NewLogNotifier())
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	alerts := notification.NewService(cfg.Mode == config.ModeSilent, backends...)

	// ---- Broker ----
	dlq := redisstore.NewDeadLetterStream(rdb)
	var transport model.Broker
	if cfg.Mode == config.ModeLive {
		hb := broker.NewHTTPBroker(broker.HTTPConfig{
			BaseURL:    cfg.BrokerBaseURL,
			APIKey:     cfg.BrokerAPIKey,
			ClientCode: cfg.BrokerClientCode,
			Password:   cfg.BrokerPassword,
			TOTPSecret: cfg.BrokerTOTPSecret,
		})
		if err := hb.Login(ctx); err != nil {
			log.Fatalf("[liveengine] broker login failed: %v", err)
		}
		transport = hb
	} else {
		transport = broker.NewPaperBroker(cfg.PaperSlippageBps)
	}

	breaker := broker.NewCircuitBreaker(cfg.BreakerWindow, cfg.BreakerFailureRate, cfg.BreakerResetAfter)
	breaker.OnStateChange = func(from, to broker.State) {
		prom.BreakerState.Set(float64(to))
		if to == broker.StateOpen {
			prom.BreakerTrips.Inc()
		}
	}
	shadow := cfg.Mode == config.ModeShadow || cfg.Mode == config.ModeSilent
	gw := broker.NewGateway(transport, breaker, dlq, broker.GatewayConfig{
		MaxAttempts: cfg.OrderMaxAttempts,
		Shadow:      shadow,
	})
	gw.OnRetry = prom.BrokerRetries.Inc
	gw.OnOrderFailed = prom.BrokerOrderFailures.Inc

	// ---- Result publication (buffered: broker outages must not lose events) ----
	results := redisstore.NewResultStream(rdb, cfg.ResultStream)
	pub := redisstore.NewBufferedPublisher(results, 0, 0)
	pub.OnBuffered = prom.ResultsBuffered.Inc
	pub.OnDropped = prom.ResultsDropped.Inc
	go pub.Run(ctx)

	// ---- External data ----
	pivots := pivot.New(cfg.PivotBaseURL)
	hist := histdata.New(histdata.Config{BaseURL: cfg.HistoryBaseURL})

	// ---- Trade manager ----
	sizer := trademan.SizerConfig{
		Capital:         decimal.NewFromFloat(cfg.Capital),
		MaxRiskPct:      decimal.NewFromFloat(cfg.MaxRiskPct),
		MaxSinglePct:    decimal.NewFromFloat(cfg.MaxSinglePct),
		MaxPositionSize: cfg.MaxPositionSize,
	}
	mgr := trademan.New(trademan.Config{
		SignalTTL:  cfg.SignalTTL,
		Resolution: cfg.CandleResolution,
		Sizer:      sizer,
	}, gw, pivots, hist, pub, alerts)
	mgr.OnEntered = prom.TradesEntered.Inc
	mgr.OnPartialFill = prom.PartialExits.Inc
	mgr.OnClosed = func(won bool) {
		prom.RecordClose(won)
		if won {
			prom.TradesClosed.WithLabelValues(string(model.StatusClosedProfit)).Inc()
		} else {
			prom.TradesClosed.WithLabelValues(string(model.StatusClosedLoss)).Inc()
		}
	}

	// ---- Crash recovery ----
	if t, err := repo.LoadPosition(ctx); err != nil {
		slog.Warn("position recovery failed", "err", err)
	} else if t != nil {
		if err := mgr.Restore(t); err != nil {
			slog.Error("restore rejected", "trade_id", t.TradeID, "err", err)
		} else {
			slog.Info("open position restored", "trade_id", t.TradeID, "instrument", t.Key())
		}
	}
	go snapshotLoop(ctx, mgr, repo)

	// ---- Backtest engine (stale-signal replay) ----
	bt := backtest.New(backtest.Config{
		Resolution:       cfg.CandleResolution,
		SignalTTL:        cfg.SignalTTL,
		Sizer:            sizer,
		EntrySlippageBps: cfg.BacktestSlippageBps,
		Workers:          cfg.BacktestWorkers,
	}, hist, pivots, repo, pub)
	go bt.Run(ctx)

	// ---- Signal router ----
	dedup := redisstore.NewDedup(rdb, "tradeengine:dedup:")
	rtr := router.New(router.Config{
		LiveThreshold: cfg.LiveAgeThreshold,
		DedupTTL:      cfg.DedupTTL,
	}, dedup, mgr, bt, dlq)
	rtr.OnLive = func() { prom.SignalsTotal.WithLabelValues("live").Inc() }
	rtr.OnBacktest = func() { prom.SignalsTotal.WithLabelValues("backtest").Inc() }
	rtr.OnRejected = func() { prom.SignalsRejected.WithLabelValues("ingress").Inc() }

	// ---- Trading loop ----
	candleCh := make(chan model.Candle, 1024)
	go mgr.Run(ctx, candleCh)
	go watchGauges(ctx, mgr, prom, health)

	// ---- Optional direct tick feed (candles built locally) ----
	if cfg.TickWSURL != "" {
		go runTickFeed(ctx, cfg, prom, candleCh)
	}

	// ---- Query API ----
	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: api.NewRouter(repo, mgr)}
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server stopped", "err", err)
		}
	}()

	// ---- Order status reconciliation ----
	if cfg.BrokerStatusWS != "" {
		statusCh := make(chan broker.OrderStatus, 256)
		ss := broker.NewStatusStream(cfg.BrokerStatusWS, cfg.BrokerAPIKey)
		go ss.Run(ctx, statusCh)
		go reconcile(ctx, mgr, statusCh)
	}

	// ---- Stream consumption ----
	consumer := redisstore.NewConsumer(rdb, redisstore.ConsumerConfig{
		Group:    cfg.ConsumerGroup,
		Consumer: cfg.ConsumerName,
		Streams:  []string{cfg.SignalStream, cfg.CandleStream},
	})
	consumer.OnLag = func(stream string, pending int64) {
		prom.ConsumerLag.WithLabelValues(stream).Set(float64(pending))
	}
	if err := consumer.EnsureGroups(ctx); err != nil {
		log.Fatalf("[liveengine] consumer group setup failed: %v", err)
	}

	candleHandler := redisstore.CandleHandler(candleCh, dlq)
	handler := func(ctx context.Context, stream, id string, payload []byte) error {
		if stream == cfg.SignalStream {
			health.SetLastSignalTime(time.Now())
			return rtr.OnSignal(ctx, payload, stream, id)
		}
		health.SetLastCandleTime(time.Now())
		return candleHandler(ctx, stream, id, payload)
	}
	go func() {
		if err := consumer.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("stream consumer stopped", "err", err)
			cancel()
		}
	}()

	health.StartLivenessChecker(ctx, rdb, repo.DB(), gw.Ping, 15*time.Second)

	slog.Info("engine running", "metrics_addr", cfg.MetricsAddr)
	<-sigCh
	slog.Info("shutting down")

	cancel()
	if err := gw.Close(); err != nil {
		slog.Warn("gateway drain", "err", err)
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	slog.Info("stopped")
}

// runTickFeed ingests raw ticks and builds trading candles locally. The
// close detector cuts the feed once the post-close price stabilizes, which
// also flushes the open candle windows.
func runTickFeed(ctx context.Context, cfg *config.Config, prom *metrics.Metrics, candleCh chan<- model.Candle) {
	rawCh := make(chan model.Tick, 10000)
	aggCh := make(chan model.Tick, 10000)

	ingest := ws.New(ws.IngestConfig{URL: cfg.TickWSURL, AuthToken: cfg.TickWSToken})
	go ingest.Run(ctx, rawCh)

	builder := agg.New(cfg.CandleResolution)
	builder.OnDefect = prom.CandleDefects.Inc
	go builder.Run(ctx, aggCh, candleCh)

	detector := closedetector.New(markethours.SessionEnd("N", time.Now()))
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-rawCh:
			if markethours.IsMarketClosed(tick.Exchange, tick.EventTS) &&
				detector.Observe(tick.LastPrice, tick.EventTS) {
				close(aggCh)
				slog.Info("tick feed closed for the session", "closing_price", detector.ClosingPrice())
				return
			}
			select {
			case aggCh <- tick:
			default:
			}
		}
	}
}

// snapshotLoop keeps the open-position snapshot current so a crash can be
// recovered into the same trade on restart.
func snapshotLoop(ctx context.Context, mgr *trademan.Manager, repo *sqlitestore.Repository) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastSaved string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := mgr.ActiveTrade()
			if t == nil {
				if lastSaved != "" {
					if err := repo.ClearPosition(ctx, lastSaved); err != nil {
						slog.Warn("position snapshot clear failed", "err", err)
						continue
					}
					lastSaved = ""
				}
				continue
			}
			if err := repo.SavePosition(ctx, t); err != nil {
				slog.Warn("position snapshot failed", "trade_id", t.TradeID, "err", err)
				continue
			}
			lastSaved = t.TradeID
		}
	}
}

// watchGauges mirrors manager state into gauges and the health view.
func watchGauges(ctx context.Context, mgr *trademan.Manager, prom *metrics.Metrics, health *metrics.HealthStatus) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prom.WatchlistSize.Set(float64(mgr.WatchlistSize()))
			health.SetMarketOpen(!markethours.IsMarketClosed("N", time.Now()))
		}
	}
}

// reconcile compares broker-side order status updates against the open
// position and flags disagreements for manual review.
func reconcile(ctx context.Context, mgr *trademan.Manager, in <-chan broker.OrderStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-in:
			t := mgr.ActiveTrade()
			switch {
			case st.Status == "REJECTED" || st.Status == "CANCELLED":
				if t != nil && t.BrokerOrderID == st.BrokerOrderID {
					slog.Error("broker reports open position order terminated",
						"trade_id", t.TradeID, "broker_order_id", st.BrokerOrderID, "status", st.Status)
				}
			case t == nil && st.Status == "FILLED":
				slog.Warn("broker fill with no tracked position", "broker_order_id", st.BrokerOrderID)
			default:
				slog.Debug("order status", "broker_order_id", st.BrokerOrderID, "status", st.Status)
			}
		}
	}
}
