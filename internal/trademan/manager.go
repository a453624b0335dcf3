package trademan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trade-enginev1/internal/logger"
	"trade-enginev1/internal/markethours"
	"trade-enginev1/internal/model"
	"trade-enginev1/internal/pivot"
	"trade-enginev1/internal/ringbuf"
)

// Alerter receives critical operational alerts (order failures, forced
// closes). The Telegram notifier implements it; tests use a capture.
type Alerter interface {
	Critical(ctx context.Context, msg string)
}

// Config holds the trade-manager tunables.
type Config struct {
	SignalTTL      time.Duration // watchlist residency limit, default 30m
	WindowCapacity int           // candles kept per instrument, default 20
	Resolution     time.Duration // confirmation candle resolution, default 5m
	Gates          GateConfig
	Exits          ExitConfig
	Sizer          SizerConfig
	SweepInterval  time.Duration // market-close sweeper period, default 30s
}

func (c Config) withDefaults() Config {
	if c.SignalTTL <= 0 {
		c.SignalTTL = 30 * time.Minute
	}
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = 20
	}
	if c.Resolution <= 0 {
		c.Resolution = 5 * time.Minute
	}
	if c.Gates == (GateConfig{}) {
		c.Gates = DefaultGateConfig()
	}
	if c.Exits == (ExitConfig{}) {
		c.Exits = DefaultExitConfig()
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// Manager owns the watchlist and the single open position. Admission comes
// in from the signal router, closed candles from the market-data consumer,
// and everything that changes trade state runs on the Run goroutine so the
// at-most-one-active-trade invariant holds by construction. The active
// pointer is still CAS-guarded for the recovery path, which restores a
// persisted position from outside the loop.
type Manager struct {
	cfg       Config
	broker    model.Broker
	pivots    model.PivotSource
	history   model.HistoricalCandles
	publisher model.ResultPublisher
	alerter   Alerter

	mu        sync.RWMutex
	watchlist map[string]*model.WatchlistEntry
	windows   map[string]*ringbuf.Window
	pivotByIK map[string]float64 // instrument key -> resolved daily pivot

	active atomic.Pointer[model.ActiveTrade]

	now func() time.Time

	// Metrics hooks (optional)
	OnEntered     func()
	OnClosed      func(won bool)
	OnPartialFill func()
}

// New creates a Manager. history and alerter may be nil.
func New(cfg Config, br model.Broker, ps model.PivotSource, hist model.HistoricalCandles, pub model.ResultPublisher, al Alerter) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		broker:    br,
		pivots:    ps,
		history:   hist,
		publisher: pub,
		alerter:   al,
		watchlist: make(map[string]*model.WatchlistEntry),
		windows:   make(map[string]*ringbuf.Window),
		pivotByIK: make(map[string]float64),
		now:       time.Now,
	}
}

// ActiveTrade returns the open position, or nil.
func (m *Manager) ActiveTrade() *model.ActiveTrade { return m.active.Load() }

// WatchlistSize reports the current watchlist population.
func (m *Manager) WatchlistSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watchlist)
}

// Restore installs a recovered open position at startup. Fails when a
// position is already installed.
func (m *Manager) Restore(t *model.ActiveTrade) error {
	if !m.active.CompareAndSwap(nil, t) {
		return fmt.Errorf("restore %s: a position is already active", t.TradeID)
	}
	return nil
}

// Admit places a validated live signal on the watchlist. Business
// rejections (an open position on the instrument, or the replacement
// policy keeping the incumbent) return nil so the caller acks the record;
// only infrastructure failures surface as errors.
func (m *Manager) Admit(ctx context.Context, sig model.Signal) error {
	key := sig.Key()
	now := m.now()

	// An in-flight position on the instrument is never overwritten.
	if t := m.active.Load(); t != nil && t.Key() == key {
		slog.Info("signal rejected, position already open on instrument", append(logger.LogWithTrace(ctx),
			"instrument", key, "trade_id", t.TradeID)...)
		m.publish(ctx, model.Event{
			Kind:      model.EventTradeCancelled,
			SignalKey: sig.IdempotencyKey(),
			ScripCode: sig.ScripCode,
			Exchange:  sig.Exchange,
			At:        now,
			Reason:    "ACTIVE_POSITION",
			TraceID:   sig.TraceID,
		})
		return nil
	}

	m.mu.Lock()
	if cur, ok := m.watchlist[key]; ok && !m.replaces(sig, cur) {
		m.mu.Unlock()
		slog.Info("signal rejected by replacement policy", append(logger.LogWithTrace(ctx),
			"instrument", key, "incumbent_direction", cur.Signal.Direction, "direction", sig.Direction)...)
		return nil
	}
	entry := model.NewWatchlistEntry(sig, now)
	m.watchlist[key] = entry
	if _, ok := m.windows[key]; !ok {
		m.windows[key] = ringbuf.NewWindow(m.cfg.WindowCapacity)
	}
	m.mu.Unlock()

	m.publish(ctx, model.Event{
		Kind:      model.EventSignalAdmitted,
		SignalKey: sig.IdempotencyKey(),
		ScripCode: sig.ScripCode,
		Exchange:  sig.Exchange,
		At:        now,
		Price:     sig.EntryHint,
		TraceID:   sig.TraceID,
	})
	slog.Info("signal admitted to watchlist", append(logger.LogWithTrace(ctx),
		"instrument", key, "direction", sig.Direction, "entry_hint", sig.EntryHint)...)

	// Seed the candle window from stored history so the gates have a
	// volume baseline and the pivot latch sees the whole session.
	if m.history != nil {
		go m.preload(ctx, entry)
	}
	return nil
}

// replaces applies the watchlist replacement policy: a same-direction signal
// always supersedes its incumbent (fresher levels win); an opposite-direction
// signal supersedes only when its entry hint is closer to the last traded
// price, otherwise the incumbent stands.
func (m *Manager) replaces(sig model.Signal, cur *model.WatchlistEntry) bool {
	if sig.Direction == cur.Signal.Direction {
		return true
	}
	win, ok := m.windows[sig.Key()]
	if !ok {
		return true
	}
	last, ok := win.Last()
	if !ok {
		return true
	}
	newDist := abs(sig.EntryHint - last.Close)
	oldDist := abs(cur.Signal.EntryHint - last.Close)
	return newDist < oldDist
}

// preload fetches the session's 1-minute candles, resamples them to the
// confirmation resolution and replays them through the window and pivot
// latch. Best effort: a failed preload just means the gates warm up on
// live candles.
func (m *Manager) preload(ctx context.Context, e *model.WatchlistEntry) {
	sig := e.Signal
	raw, err := m.history.Intraday1m(ctx, sig.Exchange, sig.ScripCode, markethours.TradingDate(m.now()))
	if err != nil {
		slog.Warn("history preload failed", append(logger.LogWithTrace(ctx),
			"instrument", sig.Key(), "err", err)...)
		return
	}
	resampled := Resample(raw, m.cfg.Resolution)
	pv := m.pivotFor(ctx, sig)

	m.mu.Lock()
	defer m.mu.Unlock()
	win, ok := m.windows[sig.Key()]
	if !ok || win.Len() > 0 {
		// Live candles already arrived; do not reorder history under them.
		return
	}
	for _, c := range resampled {
		win.Append(c)
		UpdatePivotLatch(e, c, pv)
	}
	slog.Debug("preloaded candle window", "instrument", sig.Key(), "candles", len(resampled))
}

// Resample folds 1-minute candles into fixed-size buckets aligned to the
// resolution. Input must be time-ordered; partial trailing buckets are kept.
func Resample(in []model.Candle, resolution time.Duration) []model.Candle {
	var out []model.Candle
	for _, c := range in {
		start := c.Start.Truncate(resolution)
		if n := len(out); n > 0 && out[n-1].Start.Equal(start) {
			agg := &out[n-1]
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Close = c.Close
			agg.End = c.End
			agg.Volume += c.Volume
			agg.Ticks += c.Ticks
			continue
		}
		nc := c
		nc.Start = start
		nc.End = start.Add(resolution)
		out = append(out, nc)
	}
	return out
}

// pivotFor resolves the daily pivot for the signal's instrument, caching
// per session. The remote pivot service being down falls back to the
// producer's pivot hint; no pivot at all keeps the retest gate closed.
func (m *Manager) pivotFor(ctx context.Context, sig model.Signal) float64 {
	key := sig.Key()
	m.mu.RLock()
	pv, ok := m.pivotByIK[key]
	m.mu.RUnlock()
	if ok {
		return pv
	}

	pv, err := m.pivots.DailyPivot(ctx, sig.Exchange, sig.ScripCode, sig.EntryHint)
	if err != nil {
		if !errors.Is(err, pivot.ErrUnavailable) {
			slog.Warn("pivot lookup failed", append(logger.LogWithTrace(ctx),
				"instrument", key, "err", err)...)
		}
		pv = sig.PivotHint
	}
	m.mu.Lock()
	m.pivotByIK[key] = pv
	m.mu.Unlock()
	return pv
}

// Run drives the manager: closed candles in, entries and exits out. One
// goroutine owns all trade-state transitions. Candles closing on the same
// boundary are drained together so competing confirmations are ranked, not
// raced.
func (m *Manager) Run(ctx context.Context, candles <-chan model.Candle) {
	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("trade manager stopping", "watchlist", m.WatchlistSize())
			return
		case c, ok := <-candles:
			if !ok {
				return
			}
			confirms := m.handleCandle(ctx, c)
			// Drain whatever else already closed before deciding the entry.
		drain:
			for {
				select {
				case c2, ok2 := <-candles:
					if !ok2 {
						break drain
					}
					confirms = append(confirms, m.handleCandle(ctx, c2)...)
				default:
					break drain
				}
			}
			m.enterBest(ctx, confirms)
		case <-sweep.C:
			m.sweep(ctx)
		}
	}
}

// candidate is one watchlist entry whose gates all passed on this candle.
type candidate struct {
	entry *model.WatchlistEntry
	conf  Confirmation
}

// handleCandle processes one closed candle: exit supervision when it belongs
// to the open position, then watchlist bookkeeping and gate evaluation for
// its instrument. Returns any entry candidates produced.
func (m *Manager) handleCandle(ctx context.Context, c model.Candle) []candidate {
	key := c.Key()

	if t := m.active.Load(); t != nil && t.Key() == key {
		m.superviseExit(ctx, t, c)
	}

	m.mu.Lock()
	entry, watched := m.watchlist[key]
	win := m.windows[key]
	if win != nil {
		win.Append(c)
	}
	m.mu.Unlock()
	if !watched {
		return nil
	}

	sig := entry.Signal
	if age := m.now().Sub(entry.AdmittedAt); age > m.cfg.SignalTTL {
		m.expire(ctx, entry, model.ExitSignalTTL)
		return nil
	}

	pv := m.pivotFor(ctx, sig)
	UpdatePivotLatch(entry, c, pv)

	// Entries only inside the golden window, judged by when the candle
	// opened; supervision continues all day.
	if !markethours.IsWithinGoldenWindow(sig.Exchange, c.Start) {
		return nil
	}
	if m.active.Load() != nil {
		return nil
	}

	conf, ok := EvaluateGates(entry, win, pv, m.cfg.Gates)
	if !ok {
		return nil
	}
	return []candidate{{entry: entry, conf: conf}}
}

// enterBest ranks this round's confirmations by potential reward-to-risk
// (older admission wins ties) and attempts the entry for the winner only.
// Losers stay on the watchlist for the next candle.
func (m *Manager) enterBest(ctx context.Context, confirms []candidate) {
	if len(confirms) == 0 || m.active.Load() != nil {
		return
	}
	best := confirms[0]
	for _, c := range confirms[1:] {
		if c.conf.PotentialRR > best.conf.PotentialRR ||
			(c.conf.PotentialRR == best.conf.PotentialRR && c.entry.AdmittedAt.Before(best.entry.AdmittedAt)) {
			best = c
		}
	}
	m.executeEntry(ctx, best.entry, best.conf)
}

// executeEntry sizes and places the entry order, then installs the position.
// A zero size cancels the signal instead of entering. The CAS after the
// broker ack guards against a recovery restore racing the entry; losing the
// race unwinds the just-placed order.
func (m *Manager) executeEntry(ctx context.Context, e *model.WatchlistEntry, conf Confirmation) {
	sig := e.Signal
	ctx = logger.WithTraceID(ctx, sig.TraceID)

	qty := PositionSize(m.cfg.Sizer, conf.EntryPrice, conf.StopLoss)
	if qty == 0 {
		slog.Info("position sized to zero, cancelling", append(logger.LogWithTrace(ctx),
			"instrument", sig.Key(), "entry", conf.EntryPrice, "stop", conf.StopLoss)...)
		m.remove(sig.Key())
		m.publish(ctx, model.Event{
			Kind:      model.EventTradeCancelled,
			SignalKey: sig.IdempotencyKey(),
			ScripCode: sig.ScripCode,
			Exchange:  sig.Exchange,
			At:        m.now(),
			Reason:    "ZERO_SIZE",
			TraceID:   sig.TraceID,
		})
		return
	}

	order := model.Order{
		ClientToken:  uuid.NewString(),
		ScripCode:    sig.ScripCode,
		Exchange:     sig.Exchange,
		ExchangeType: sig.ExchangeType,
		Side:         model.EntrySide(sig.Direction),
		Type:         model.OrderMarket,
		Qty:          qty,
		TraceID:      sig.TraceID,
	}
	if sig.IsDerivative() {
		// Derivative entries go in as stop-limit at the confirmed level;
		// equities enter at market.
		order.Type = model.OrderStopLimit
		order.TriggerPrice = conf.EntryPrice
		order.LimitPrice = conf.EntryPrice
	}
	ack, err := m.broker.Place(ctx, order)
	if err != nil {
		slog.Error("entry order failed", append(logger.LogWithTrace(ctx),
			"instrument", sig.Key(), "err", err)...)
		m.remove(sig.Key())
		m.publish(ctx, model.Event{
			Kind:      model.EventTradeFailed,
			SignalKey: sig.IdempotencyKey(),
			ScripCode: sig.ScripCode,
			Exchange:  sig.Exchange,
			At:        m.now(),
			Reason:    model.ExitOrderFailed,
			TraceID:   sig.TraceID,
		})
		m.alert(ctx, fmt.Sprintf("entry order failed for %s: %v", sig.Key(), err))
		return
	}

	fill := ack.FillPrice
	if fill <= 0 {
		fill = conf.EntryPrice
	}
	now := m.now()
	t := &model.ActiveTrade{
		TradeID:       uuid.NewString(),
		Signal:        sig,
		EntryPrice:    fill,
		EntryTime:     now,
		PositionSize:  qty,
		StopLoss:      conf.StopLoss,
		Targets:       sig.Targets,
		HighSince:     fill,
		LowSince:      fill,
		BrokerOrderID: ack.BrokerOrderID,
		Status:        model.StatusActive,
		Meta:          model.NewMeta(),
	}
	if !m.active.CompareAndSwap(nil, t) {
		slog.Warn("entry lost the activation race, unwinding order", append(logger.LogWithTrace(ctx),
			"instrument", sig.Key(), "broker_order_id", ack.BrokerOrderID)...)
		if cerr := m.broker.Cancel(ctx, ack.BrokerOrderID); cerr != nil {
			m.alert(ctx, fmt.Sprintf("failed to unwind order %s for %s: %v", ack.BrokerOrderID, sig.Key(), cerr))
		}
		return
	}
	m.remove(sig.Key())

	if m.OnEntered != nil {
		m.OnEntered()
	}
	m.publish(ctx, model.Event{
		Kind:      model.EventTradeEntered,
		TradeID:   t.TradeID,
		SignalKey: sig.IdempotencyKey(),
		ScripCode: sig.ScripCode,
		Exchange:  sig.Exchange,
		At:        now,
		Price:     fill,
		Qty:       qty,
		TraceID:   sig.TraceID,
	})
	slog.Info("trade entered", append(logger.LogWithTrace(ctx),
		"trade_id", t.TradeID, "instrument", sig.Key(), "direction", sig.Direction,
		"entry", fill, "stop", t.StopLoss, "qty", qty)...)
}

// superviseExit applies the exit rules to the open position for one closed
// candle and executes whatever they decide.
func (m *Manager) superviseExit(ctx context.Context, t *model.ActiveTrade, c model.Candle) {
	ctx = logger.WithTraceID(ctx, t.Signal.TraceID)
	d := DecideExit(t, c, m.cfg.Exits)
	switch d.Kind {
	case ExitNone:
		return
	case ExitPartialT1, ExitPartialGap:
		half := t.PositionSize / 2
		if half == 0 {
			// One-share positions cannot split; the target closes them.
			m.closeTrade(ctx, t, d.Price, model.ExitTarget)
			return
		}
		m.partialExit(ctx, t, d.Price, half)
	case ExitStop:
		m.closeTrade(ctx, t, d.Price, model.ExitStopLoss)
	case ExitFullTarget:
		m.closeTrade(ctx, t, d.Price, model.ExitTarget)
	case ExitTrailing:
		m.closeTrade(ctx, t, d.Price, model.ExitTrailingStop)
	}
}

// partialExit books the 50% leg at target 1 and arms the trailing stop.
func (m *Manager) partialExit(ctx context.Context, t *model.ActiveTrade, price float64, qty int64) {
	order := model.Order{
		ClientToken:  uuid.NewString(),
		ScripCode:    t.Signal.ScripCode,
		Exchange:     t.Signal.Exchange,
		ExchangeType: t.Signal.ExchangeType,
		Side:         model.ExitSide(t.Direction()),
		Type:         model.OrderMarket,
		Qty:          qty,
		TraceID:      t.Signal.TraceID,
	}
	ack, err := m.broker.Place(ctx, order)
	if err != nil {
		m.failTrade(ctx, t, err)
		return
	}
	if ack.FillPrice > 0 {
		price = ack.FillPrice
	}
	now := m.now()
	t.Target1Hit = true
	t.Partials = append(t.Partials, model.PartialFill{Price: price, Qty: qty, At: now})
	t.Status = model.StatusPartialExit

	if m.OnPartialFill != nil {
		m.OnPartialFill()
	}
	m.publish(ctx, model.Event{
		Kind:      model.EventPartialExit,
		TradeID:   t.TradeID,
		SignalKey: t.Signal.IdempotencyKey(),
		ScripCode: t.Signal.ScripCode,
		Exchange:  t.Signal.Exchange,
		At:        now,
		Price:     price,
		Qty:       qty,
		TraceID:   t.Signal.TraceID,
	})
	slog.Info("partial exit booked", append(logger.LogWithTrace(ctx),
		"trade_id", t.TradeID, "price", price, "qty", qty)...)
}

// closeTrade exits the remaining quantity and emits the terminal result.
func (m *Manager) closeTrade(ctx context.Context, t *model.ActiveTrade, price float64, reason string) {
	qty := t.RemainingQty()
	order := model.Order{
		ClientToken:  uuid.NewString(),
		ScripCode:    t.Signal.ScripCode,
		Exchange:     t.Signal.Exchange,
		ExchangeType: t.Signal.ExchangeType,
		Side:         model.ExitSide(t.Direction()),
		Type:         model.OrderMarket,
		Qty:          qty,
		TraceID:      t.Signal.TraceID,
	}
	ack, err := m.broker.Place(ctx, order)
	if err != nil {
		m.failTrade(ctx, t, err)
		return
	}
	if ack.FillPrice > 0 {
		price = ack.FillPrice
	}

	now := m.now()
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
	t.Status = status

	res := model.TradeResult{
		TradeID:      t.TradeID,
		SignalKey:    t.Signal.IdempotencyKey(),
		ScripCode:    t.Signal.ScripCode,
		Exchange:     t.Signal.Exchange,
		Direction:    t.Direction(),
		Status:       status,
		EntryPrice:   t.EntryPrice,
		EntryTime:    t.EntryTime,
		ExitPrice:    price,
		ExitTime:     now,
		PositionSize: t.PositionSize,
		RealizedPnL:  pnl,
		ExitReason:   reason,
		Partials:     t.Partials,
		TraceID:      t.Signal.TraceID,
	}
	m.active.Store(nil)

	if m.OnClosed != nil {
		m.OnClosed(pnl.Sign() > 0)
	}
	m.publish(ctx, model.Event{
		Kind:      model.EventTradeClosed,
		TradeID:   t.TradeID,
		SignalKey: res.SignalKey,
		ScripCode: res.ScripCode,
		Exchange:  res.Exchange,
		At:        now,
		Price:     price,
		Qty:       qty,
		Reason:    reason,
		Result:    &res,
		TraceID:   t.Signal.TraceID,
	})
	slog.Info("trade closed", append(logger.LogWithTrace(ctx),
		"trade_id", t.TradeID, "reason", reason, "status", status,
		"exit", price, "pnl", pnl.StringFixed(2))...)
}

// failTrade marks the position failed after an unrecoverable exit-order
// failure. The position may still be live at the broker, so this is a
// critical alert: a human reconciles it.
func (m *Manager) failTrade(ctx context.Context, t *model.ActiveTrade, err error) {
	t.Status = model.StatusFailed
	m.active.Store(nil)
	m.publish(ctx, model.Event{
		Kind:      model.EventTradeFailed,
		TradeID:   t.TradeID,
		SignalKey: t.Signal.IdempotencyKey(),
		ScripCode: t.Signal.ScripCode,
		Exchange:  t.Signal.Exchange,
		At:        m.now(),
		Reason:    model.ExitOrderFailed,
		TraceID:   t.Signal.TraceID,
	})
	slog.Error("exit order failed, trade marked FAILED", append(logger.LogWithTrace(ctx),
		"trade_id", t.TradeID, "err", err)...)
	m.alert(ctx, fmt.Sprintf("exit order failed for trade %s (%s), manual reconciliation required: %v",
		t.TradeID, t.Key(), err))
}

// sweep runs time-driven housekeeping: watchlist TTL expiry and the
// market-close unwind.
func (m *Manager) sweep(ctx context.Context) {
	now := m.now()

	m.mu.RLock()
	var expired, closed []*model.WatchlistEntry
	for _, e := range m.watchlist {
		switch {
		case now.Sub(e.AdmittedAt) > m.cfg.SignalTTL:
			expired = append(expired, e)
		case markethours.IsMarketClosed(e.Signal.Exchange, now):
			closed = append(closed, e)
		}
	}
	m.mu.RUnlock()

	for _, e := range expired {
		m.expire(ctx, e, model.ExitSignalTTL)
	}
	for _, e := range closed {
		m.expire(ctx, e, model.ExitMarketClose)
	}

	if t := m.active.Load(); t != nil && markethours.IsMarketClosed(t.Signal.Exchange, now) {
		m.forceClose(ctx, t)
	}
}

// forceClose unwinds the open position at the last known price when the
// session ends. Intraday book: nothing is carried overnight.
func (m *Manager) forceClose(ctx context.Context, t *model.ActiveTrade) {
	price := t.EntryPrice
	m.mu.RLock()
	if win, ok := m.windows[t.Key()]; ok {
		if last, lok := win.Last(); lok {
			price = last.Close
		}
	}
	m.mu.RUnlock()
	slog.Info("market closed, force-closing position", append(logger.LogWithTrace(
		logger.WithTraceID(ctx, t.Signal.TraceID)), "trade_id", t.TradeID, "price", price)...)
	m.closeTrade(logger.WithTraceID(ctx, t.Signal.TraceID), t, price, model.ExitMarketClose)
}

// expire removes a watchlist entry and emits the cancellation.
func (m *Manager) expire(ctx context.Context, e *model.WatchlistEntry, reason string) {
	m.remove(e.Signal.Key())
	e.Status = model.StatusCancelled
	m.publish(ctx, model.Event{
		Kind:      model.EventTradeCancelled,
		SignalKey: e.Signal.IdempotencyKey(),
		ScripCode: e.Signal.ScripCode,
		Exchange:  e.Signal.Exchange,
		At:        m.now(),
		Reason:    reason,
		TraceID:   e.Signal.TraceID,
	})
	slog.Info("watchlist entry cancelled", "instrument", e.Signal.Key(), "reason", reason)
}

func (m *Manager) remove(key string) {
	m.mu.Lock()
	delete(m.watchlist, key)
	m.mu.Unlock()
}

func (m *Manager) publish(ctx context.Context, ev model.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		slog.Error("result publish failed", "kind", ev.Kind, "key", ev.DedupKey(), "err", err)
	}
}

func (m *Manager) alert(ctx context.Context, msg string) {
	if m.alerter != nil {
		m.alerter.Critical(ctx, msg)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
