package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-enginev1/internal/markethours"
	"trade-enginev1/internal/model"
	"trade-enginev1/internal/trademan"
)

type fakeHistory struct {
	candles []model.Candle
	err     error
}

func (f *fakeHistory) Intraday1m(ctx context.Context, exchange, scrip string, date time.Time) ([]model.Candle, error) {
	return f.candles, f.err
}

type fakePivot struct{ pivot float64 }

func (f *fakePivot) DailyPivot(ctx context.Context, exchange, scrip string, price float64) (float64, error) {
	if f.pivot == 0 {
		return 0, errors.New("pivot service down")
	}
	return f.pivot, nil
}

type captureRepo struct {
	mu      sync.Mutex
	results []model.TradeResult
}

func (r *captureRepo) SaveResult(ctx context.Context, res model.TradeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *captureRepo) Close() error { return nil }

// minute returns a 1-minute candle that resamples 1:1 into its 5-minute
// bucket (one candle per bucket keeps the simulated OHLCV explicit).
func minute(at time.Time, o, h, l, c float64, vol int64) model.Candle {
	return model.Candle{
		ScripCode: "49812", Exchange: "N",
		Start: at, End: at.Add(time.Minute),
		Open: o, High: h, Low: l, Close: c, Volume: vol,
	}
}

func staleSignal(origin time.Time) model.Signal {
	return model.Signal{
		ScripCode: "49812", Exchange: "N", ExchangeType: "C",
		Direction: model.DirectionLong, SignalKind: "BUY",
		EntryHint: 100, StopLossHint: 95,
		Targets:  [4]float64{110, 115},
		OriginTS: origin,
		IngestTS: origin.Add(5 * time.Minute),
		TraceID:  "trace-bt",
	}
}

func sessionAt(hh, mm int) time.Time {
	return time.Date(2026, time.August, 18, hh, mm, 0, 0, markethours.IST)
}

func testEngine(hist *fakeHistory, pv float64, repo *captureRepo) *Engine {
	cfg := Config{
		Sizer:            trademan.DefaultSizerConfig(decimal.NewFromInt(1_000_000)),
		EntrySlippageBps: -1, // deterministic fills for the assertions
	}
	return New(cfg, hist, &fakePivot{pivot: pv}, repo, nil)
}

func TestReplay_CleanWin(t *testing.T) {
	hist := &fakeHistory{candles: []model.Candle{
		minute(sessionAt(10, 30), 99.0, 100.0, 98.5, 99.2, 1000), // warmup
		minute(sessionAt(10, 35), 99.2, 99.9, 98.8, 99.4, 1000),  // warmup
		minute(sessionAt(10, 40), 99.8, 100.0, 97.0, 99.3, 1000), // breach under pivot 98
		minute(sessionAt(10, 45), 100.3, 100.4, 99.1, 99.2, 1000),
		minute(sessionAt(10, 50), 99.0, 101.0, 97.5, 100.5, 2000), // engulfing confirmation
		minute(sessionAt(10, 55), 100.5, 112.0, 100.0, 111.0, 1500),
		minute(sessionAt(11, 0), 111.0, 116.0, 111.0, 115.5, 1500),
	}}
	e := testEngine(hist, 98.0, &captureRepo{})

	res, err := e.Replay(context.Background(), staleSignal(sessionAt(10, 40)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.StatusClosedProfit {
		t.Fatalf("status = %s, want CLOSED_PROFIT", res.Status)
	}
	if !res.Backtest {
		t.Error("backtest flag not set")
	}
	if res.EntryPrice != 100.5 {
		t.Errorf("entry = %v, want 100.5", res.EntryPrice)
	}
	if res.ExitPrice != 115 || res.ExitReason != model.ExitTarget {
		t.Errorf("exit = %v/%s, want 115/TARGET", res.ExitPrice, res.ExitReason)
	}
	if len(res.Partials) != 1 || res.Partials[0].Price != 110 {
		t.Fatalf("partials = %+v, want one leg at 110", res.Partials)
	}
	// Same position math as live: 2487 shares, half out at T1.
	if res.PositionSize != 2487 || res.Partials[0].Qty != 1243 {
		t.Errorf("size = %d partial = %d", res.PositionSize, res.Partials[0].Qty)
	}
	want := decimal.NewFromFloat(9.5).Mul(decimal.NewFromInt(1243)).
		Add(decimal.NewFromFloat(14.5).Mul(decimal.NewFromInt(1244)))
	if !res.RealizedPnL.Equal(want) {
		t.Errorf("pnl = %s, want %s", res.RealizedPnL, want)
	}
}

func TestReplay_StopWithSlippage(t *testing.T) {
	hist := &fakeHistory{candles: []model.Candle{
		minute(sessionAt(10, 30), 99.0, 100.0, 98.5, 99.2, 1000),
		minute(sessionAt(10, 35), 99.2, 99.9, 98.8, 99.4, 1000),
		minute(sessionAt(10, 40), 99.8, 100.0, 97.0, 99.3, 1000),
		minute(sessionAt(10, 45), 100.3, 100.4, 99.1, 99.2, 1000),
		minute(sessionAt(10, 50), 99.0, 101.0, 97.5, 100.5, 2000),
		// Gap down through the stop.
		minute(sessionAt(10, 55), 96.0, 98.0, 92.0, 93.0, 3000),
	}}
	cfg := Config{
		Sizer:            trademan.DefaultSizerConfig(decimal.NewFromInt(1_000_000)),
		EntrySlippageBps: 10,
	}
	e := New(cfg, hist, &fakePivot{pivot: 98.0}, &captureRepo{}, nil)

	res, err := e.Replay(context.Background(), staleSignal(sessionAt(10, 40)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.StatusClosedLoss || res.ExitReason != model.ExitStopLoss {
		t.Fatalf("got %s/%s, want CLOSED_LOSS/STOP_LOSS", res.Status, res.ExitReason)
	}
	// Entry slipped up 10bps from 100.5; stop slipped down 15bps from the
	// recomputed stop 97.4025.
	wantEntry := 100.5 * 1.001
	if diff := res.EntryPrice - wantEntry; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("entry = %v, want %v", res.EntryPrice, wantEntry)
	}
	wantExit := 97.5 * 0.999 * (1 - 0.0015)
	if diff := res.ExitPrice - wantExit; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("exit = %v, want %v", res.ExitPrice, wantExit)
	}
	if res.RealizedPnL.Sign() >= 0 {
		t.Error("stop exit must realize a loss")
	}
}

func TestReplay_TTLExpiresWithoutConfirmation(t *testing.T) {
	// Quiet candles: the gates never pass, the signal ages out.
	var candles []model.Candle
	for i := 0; i < 8; i++ {
		at := sessionAt(10, 30).Add(time.Duration(i) * 5 * time.Minute)
		candles = append(candles, minute(at, 100, 100.5, 99.5, 100.2, 1000))
	}
	hist := &fakeHistory{candles: candles}
	e := testEngine(hist, 98.0, &captureRepo{})

	res, err := e.Replay(context.Background(), staleSignal(sessionAt(10, 30)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.StatusCancelled || res.ExitReason != model.ExitSignalTTL {
		t.Fatalf("got %s/%s, want CANCELLED/SIGNAL_TTL", res.Status, res.ExitReason)
	}
}

func TestReplay_ForceCloseAtSessionEnd(t *testing.T) {
	hist := &fakeHistory{candles: []model.Candle{
		minute(sessionAt(10, 30), 99.0, 100.0, 98.5, 99.2, 1000),
		minute(sessionAt(10, 35), 99.2, 99.9, 98.8, 99.4, 1000),
		minute(sessionAt(10, 40), 99.8, 100.0, 97.0, 99.3, 1000),
		minute(sessionAt(10, 45), 100.3, 100.4, 99.1, 99.2, 1000),
		minute(sessionAt(10, 50), 99.0, 101.0, 97.5, 100.5, 2000),
		// Drifts sideways; session data ends with the position open.
		minute(sessionAt(10, 55), 100.5, 101.0, 100.0, 100.8, 1200),
	}}
	e := testEngine(hist, 98.0, &captureRepo{})

	res, err := e.Replay(context.Background(), staleSignal(sessionAt(10, 40)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.StatusClosedTime || res.ExitReason != model.ExitMarketClose {
		t.Fatalf("got %s/%s, want CLOSED_TIME/MARKET_CLOSE", res.Status, res.ExitReason)
	}
	if res.ExitPrice != 100.8 {
		t.Errorf("exit = %v, want last close 100.8", res.ExitPrice)
	}
}

func TestEnqueueAndWorkerPersists(t *testing.T) {
	hist := &fakeHistory{candles: []model.Candle{
		minute(sessionAt(10, 30), 100, 100.5, 99.5, 100.2, 1000),
		minute(sessionAt(10, 35), 100, 100.5, 99.5, 100.2, 1000),
	}}
	repo := &captureRepo{}
	e := testEngine(hist, 98.0, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	if err := e.Enqueue(ctx, staleSignal(sessionAt(10, 30))); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for {
		repo.mu.Lock()
		n := len(repo.results)
		repo.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("result not journaled")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
