// Package backtest replays stale signals against stored candles using the
// exact live entry gates and exit rules. No broker order is ever placed;
// fills are simulated with adverse slippage and the terminal record is
// journaled with the backtest flag set.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trade-enginev1/internal/logger"
	"trade-enginev1/internal/markethours"
	"trade-enginev1/internal/model"
	"trade-enginev1/internal/pivot"
	"trade-enginev1/internal/ringbuf"
	"trade-enginev1/internal/trademan"
)

// Config holds the replay tunables. Gate, exit and sizing settings mirror
// the live engine so a backtest answers "what would the live engine have
// done", not "what would a friendlier engine have done".
type Config struct {
	Resolution     time.Duration // confirmation resolution, default 5m
	SignalTTL      time.Duration // default 30m
	WindowCapacity int           // default 20
	Gates          trademan.GateConfig
	Exits          trademan.ExitConfig
	Sizer          trademan.SizerConfig

	// Simulated fill friction, in basis points. Stops slip harder than
	// entries: a stop triggers into a falling market.
	EntrySlippageBps   float64 // default 5, negative disables
	StopSlippageFactor float64 // multiplier on the entry bps, default 1.5

	QueueSize int // signal backlog, default 256
	Workers   int // default 2
}

func (c Config) withDefaults() Config {
	if c.Resolution <= 0 {
		c.Resolution = 5 * time.Minute
	}
	if c.SignalTTL <= 0 {
		c.SignalTTL = 30 * time.Minute
	}
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = 20
	}
	if c.Gates == (trademan.GateConfig{}) {
		c.Gates = trademan.DefaultGateConfig()
	}
	if c.Exits == (trademan.ExitConfig{}) {
		c.Exits = trademan.DefaultExitConfig()
	}
	if c.EntrySlippageBps < 0 {
		c.EntrySlippageBps = 0
	} else if c.EntrySlippageBps == 0 {
		c.EntrySlippageBps = 5
	}
	if c.StopSlippageFactor <= 0 {
		c.StopSlippageFactor = 1.5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	return c
}

// Engine consumes stale signals and replays their session.
type Engine struct {
	cfg       Config
	history   model.HistoricalCandles
	pivots    model.PivotSource
	repo      model.TradeRepository
	publisher model.ResultPublisher // optional

	queue chan model.Signal
}

// New creates an Engine. publisher may be nil.
func New(cfg Config, hist model.HistoricalCandles, ps model.PivotSource, repo model.TradeRepository, pub model.ResultPublisher) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		history:   hist,
		pivots:    ps,
		repo:      repo,
		publisher: pub,
		queue:     make(chan model.Signal, cfg.QueueSize),
	}
}

// Enqueue hands a stale signal to the replay workers. Satisfies the
// router's backtest sink.
func (e *Engine) Enqueue(ctx context.Context, sig model.Signal) error {
	select {
	case e.queue <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the queue until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		go e.worker(ctx)
	}
	<-ctx.Done()
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-e.queue:
			if res, err := e.Replay(ctx, sig); err != nil {
				slog.Error("backtest replay failed", append(logger.LogWithTrace(
					logger.WithTraceID(ctx, sig.TraceID)), "instrument", sig.Key(), "err", err)...)
			} else {
				e.persist(ctx, sig, res)
			}
		}
	}
}

// Replay runs one signal through its session's candles and returns the
// terminal record.
func (e *Engine) Replay(ctx context.Context, sig model.Signal) (model.TradeResult, error) {
	raw, err := e.history.Intraday1m(ctx, sig.Exchange, sig.ScripCode, markethours.TradingDate(sig.OriginTS))
	if err != nil {
		return model.TradeResult{}, fmt.Errorf("fetch session candles: %w", err)
	}
	candles := trademan.Resample(raw, e.cfg.Resolution)
	if len(candles) == 0 {
		return model.TradeResult{}, fmt.Errorf("no candles for %s on %s", sig.Key(), sig.OriginTS.Format("2006-01-02"))
	}

	pv, err := e.pivots.DailyPivot(ctx, sig.Exchange, sig.ScripCode, sig.EntryHint)
	if err != nil {
		if !errors.Is(err, pivot.ErrUnavailable) {
			slog.Warn("backtest pivot lookup failed", "instrument", sig.Key(), "err", err)
		}
		pv = sig.PivotHint
	}

	entry := model.NewWatchlistEntry(sig, sig.OriginTS)
	win := ringbuf.NewWindow(e.cfg.WindowCapacity)

	var trade *model.ActiveTrade
	var lastClose float64

	for _, c := range candles {
		win.Append(c)
		trademan.UpdatePivotLatch(entry, c, pv)
		lastClose = c.Close

		if !c.End.After(sig.OriginTS) {
			continue // warmup: the signal did not exist yet
		}

		if trade != nil {
			if res, done := e.superviseExit(trade, c); done {
				return res, nil
			}
			continue
		}

		if c.End.Sub(sig.OriginTS) > e.cfg.SignalTTL {
			return e.cancelled(sig, model.ExitSignalTTL, c.End), nil
		}
		if !markethours.IsWithinGoldenWindow(sig.Exchange, c.Start) {
			continue
		}
		conf, ok := trademan.EvaluateGates(entry, win, pv, e.cfg.Gates)
		if !ok {
			continue
		}

		qty := trademan.PositionSize(e.cfg.Sizer, conf.EntryPrice, conf.StopLoss)
		if qty == 0 {
			return e.cancelled(sig, "ZERO_SIZE", c.End), nil
		}
		fill := clamp(e.slip(sig.Direction, conf.EntryPrice, 1, true), c.Low, c.High)
		trade = &model.ActiveTrade{
			TradeID:      uuid.NewString(),
			Signal:       sig,
			EntryPrice:   fill,
			EntryTime:    c.End,
			PositionSize: qty,
			StopLoss:     conf.StopLoss,
			Targets:      sig.Targets,
			HighSince:    fill,
			LowSince:     fill,
			Status:       model.StatusActive,
			Meta:         model.NewMeta(),
		}
	}

	if trade == nil {
		// The session ended without a confirmation.
		return e.cancelled(sig, model.ExitMarketClose, candles[len(candles)-1].End), nil
	}
	// Session ran out with the position open: intraday force close.
	return e.close(trade, lastClose, model.ExitMarketClose, candles[len(candles)-1].End), nil
}

// superviseExit applies the live exit rules to one candle of the simulated
// position. Returns the terminal record once the position fully closes.
func (e *Engine) superviseExit(t *model.ActiveTrade, c model.Candle) (model.TradeResult, bool) {
	d := trademan.DecideExit(t, c, e.cfg.Exits)
	switch d.Kind {
	case trademan.ExitNone:
		return model.TradeResult{}, false
	case trademan.ExitPartialT1, trademan.ExitPartialGap:
		half := t.PositionSize / 2
		if half == 0 {
			return e.close(t, d.Price, model.ExitTarget, c.End), true
		}
		t.Target1Hit = true
		t.Partials = append(t.Partials, model.PartialFill{Price: d.Price, Qty: half, At: c.End})
		t.Status = model.StatusPartialExit
		return model.TradeResult{}, false
	case trademan.ExitStop:
		fill := clamp(e.slip(t.Direction(), d.Price, e.cfg.StopSlippageFactor, false), c.Low, c.High)
		return e.close(t, fill, model.ExitStopLoss, c.End), true
	case trademan.ExitTrailing:
		fill := clamp(e.slip(t.Direction(), d.Price, e.cfg.StopSlippageFactor, false), c.Low, c.High)
		return e.close(t, fill, model.ExitTrailingStop, c.End), true
	default: // trademan.ExitFullTarget
		return e.close(t, d.Price, model.ExitTarget, c.End), true
	}
}

// slip moves a price against the trade by the configured basis points.
// entering=true slips an opening fill, false an exit fill.
func (e *Engine) slip(d model.Direction, price, factor float64, entering bool) float64 {
	bps := e.cfg.EntrySlippageBps * factor / 10000
	adverseUp := d == model.DirectionLong
	if !entering {
		adverseUp = !adverseUp
	}
	if adverseUp {
		return price * (1 + bps)
	}
	return price * (1 - bps)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Engine) close(t *model.ActiveTrade, price float64, reason string, at time.Time) model.TradeResult {
	qty := t.RemainingQty()
	pnl := model.PnL(t.Direction(), t.EntryPrice, price, qty)
	for _, p := range t.Partials {
		pnl = pnl.Add(model.PnL(t.Direction(), t.EntryPrice, p.Price, p.Qty))
	}

	status := model.StatusClosedLoss
	if reason == model.ExitMarketClose {
		status = model.StatusClosedTime
	} else if pnl.Sign() > 0 {
		status = model.StatusClosedProfit
	}
	return model.TradeResult{
		TradeID:      t.TradeID,
		SignalKey:    t.Signal.IdempotencyKey(),
		ScripCode:    t.Signal.ScripCode,
		Exchange:     t.Signal.Exchange,
		Direction:    t.Direction(),
		Status:       status,
		EntryPrice:   t.EntryPrice,
		EntryTime:    t.EntryTime,
		ExitPrice:    price,
		ExitTime:     at,
		PositionSize: t.PositionSize,
		RealizedPnL:  pnl,
		ExitReason:   reason,
		Partials:     t.Partials,
		Backtest:     true,
		TraceID:      t.Signal.TraceID,
	}
}

func (e *Engine) cancelled(sig model.Signal, reason string, at time.Time) model.TradeResult {
	return model.TradeResult{
		TradeID:    uuid.NewString(),
		SignalKey:  sig.IdempotencyKey(),
		ScripCode:  sig.ScripCode,
		Exchange:   sig.Exchange,
		Direction:  sig.Direction,
		Status:     model.StatusCancelled,
		ExitReason: reason,
		ExitTime:   at,
		Backtest:   true,
		TraceID:    sig.TraceID,
	}
}

func (e *Engine) persist(ctx context.Context, sig model.Signal, res model.TradeResult) {
	if err := e.repo.SaveResult(ctx, res); err != nil {
		slog.Error("backtest result journal failed", "trade_id", res.TradeID, "err", err)
	}
	if e.publisher != nil {
		ev := model.Event{
			Kind:      model.EventTradeClosed,
			TradeID:   res.TradeID,
			SignalKey: res.SignalKey,
			ScripCode: res.ScripCode,
			Exchange:  res.Exchange,
			At:        res.ExitTime,
			Price:     res.ExitPrice,
			Reason:    res.ExitReason,
			Result:    &res,
			TraceID:   res.TraceID,
		}
		if res.Status == model.StatusCancelled {
			ev.Kind = model.EventTradeCancelled
		}
		if err := e.publisher.Publish(ctx, ev); err != nil {
			slog.Error("backtest result publish failed", "trade_id", res.TradeID, "err", err)
		}
	}
	slog.Info("backtest replay finished", append(logger.LogWithTrace(
		logger.WithTraceID(ctx, sig.TraceID)),
		"instrument", sig.Key(), "status", res.Status,
		"pnl", res.RealizedPnL.StringFixed(2))...)
}
