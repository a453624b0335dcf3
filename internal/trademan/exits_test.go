package trademan

import (
	"math"
	"testing"
	"time"

	"trade-enginev1/internal/model"
)

func longTrade(entry, stop float64, targets [4]float64) *model.ActiveTrade {
	return &model.ActiveTrade{
		TradeID:      "t-1",
		Signal:       model.Signal{ScripCode: "49812", Exchange: "N", ExchangeType: "C", Direction: model.DirectionLong},
		EntryPrice:   entry,
		PositionSize: 100,
		StopLoss:     stop,
		Targets:      targets,
		HighSince:    entry,
		LowSince:     entry,
		Status:       model.StatusActive,
		Meta:         model.NewMeta(),
	}
}

func exitCandle(o, h, l, c float64) model.Candle {
	start := time.Date(2026, time.August, 18, 11, 0, 0, 0, time.UTC)
	return model.Candle{
		ScripCode: "49812", Exchange: "N",
		Start: start, End: start.Add(5 * time.Minute),
		Open: o, High: h, Low: l, Close: c, Volume: 1000,
	}
}

func TestDecideExit_GapThroughStopWins(t *testing.T) {
	tr := longTrade(100, 95, [4]float64{110})

	// Opens below the stop while the range also sweeps the target.
	d := DecideExit(tr, exitCandle(93, 112, 92, 108), DefaultExitConfig())
	if d.Kind != ExitStop {
		t.Fatalf("kind = %v, want ExitStop", d.Kind)
	}
	if d.Price != 95 {
		t.Errorf("price = %v, want 95", d.Price)
	}
}

func TestDecideExit_BullishBodyLowFirst(t *testing.T) {
	tr := longTrade(100, 95, [4]float64{110})

	// No gap; bullish body means the low printed before the high.
	d := DecideExit(tr, exitCandle(98, 112, 94, 109), DefaultExitConfig())
	if d.Kind != ExitStop {
		t.Fatalf("kind = %v, want ExitStop", d.Kind)
	}
	if d.Price != 95 {
		t.Errorf("price = %v, want 95", d.Price)
	}
}

func TestDecideExit_BearishBodyHighFirst(t *testing.T) {
	tr := longTrade(100, 95, [4]float64{110})

	// Bearish body: the high printed first, so the target fills before
	// the slide to the low.
	d := DecideExit(tr, exitCandle(98, 112, 94, 96), DefaultExitConfig())
	if d.Kind != ExitPartialT1 {
		t.Fatalf("kind = %v, want ExitPartialT1", d.Kind)
	}
	if d.Price != 110 {
		t.Errorf("price = %v, want 110", d.Price)
	}
}

func TestDecideExit_GapOpenThroughTarget(t *testing.T) {
	tr := longTrade(100, 95, [4]float64{110})

	// Opens above the target; the stop touch later in the range loses.
	d := DecideExit(tr, exitCandle(111, 113, 94, 95), DefaultExitConfig())
	if d.Kind != ExitPartialT1 {
		t.Fatalf("kind = %v, want ExitPartialT1", d.Kind)
	}
}

func TestDecideExit_PartialThenFullTarget(t *testing.T) {
	tr := longTrade(100.50, 97.4025, [4]float64{110, 115})
	cfg := DefaultExitConfig()

	d := DecideExit(tr, exitCandle(100.5, 112, 100, 111), cfg)
	if d.Kind != ExitPartialT1 || d.Price != 110 {
		t.Fatalf("first candle: kind=%v price=%v, want partial at 110", d.Kind, d.Price)
	}
	tr.Target1Hit = true

	d = DecideExit(tr, exitCandle(111, 116, 111, 115.5), cfg)
	if d.Kind != ExitFullTarget {
		t.Fatalf("second candle: kind = %v, want ExitFullTarget", d.Kind)
	}
	if d.Price != 115 || d.TargetIdx != 1 {
		t.Errorf("price=%v idx=%d, want 115 at index 1", d.Price, d.TargetIdx)
	}
}

func TestDecideExit_GapPastT1PartialAtClose(t *testing.T) {
	tr := longTrade(100, 95, [4]float64{110, 115})

	// The candle already cleared T2 before the T1 partial could fill.
	// The partial takes the candle close, not the stale target price.
	d := DecideExit(tr, exitCandle(112, 118, 111, 116), DefaultExitConfig())
	if d.Kind != ExitPartialGap {
		t.Fatalf("kind = %v, want ExitPartialGap", d.Kind)
	}
	if d.Price != 116 {
		t.Errorf("price = %v, want candle close 116", d.Price)
	}
}

func TestDecideExit_LaterTargetsNeedT1Done(t *testing.T) {
	tr := longTrade(100, 95, [4]float64{110, 115, 120})
	tr.Target1Hit = true

	// Best touched target wins: range reaches T3.
	d := DecideExit(tr, exitCandle(114, 121, 113, 119), DefaultExitConfig())
	if d.Kind != ExitFullTarget || d.Price != 120 || d.TargetIdx != 2 {
		t.Fatalf("got kind=%v price=%v idx=%d, want full close at 120", d.Kind, d.Price, d.TargetIdx)
	}
}

func TestDecideExit_TrailingArmsEarlyOnFavorableMove(t *testing.T) {
	tr := longTrade(100, 95, [4]float64{120})
	cfg := DefaultExitConfig()

	// 3% favorable move arms the trail before any partial; the pullback
	// through high*(1-1%) closes the trade.
	d := DecideExit(tr, exitCandle(102.2, 103, 102.1, 102.5), cfg)
	if d.Kind != ExitNone {
		t.Fatalf("arming candle: kind = %v, want none (low above trigger)", d.Kind)
	}
	d = DecideExit(tr, exitCandle(102, 102.5, 101, 101.2), cfg)
	if d.Kind != ExitTrailing {
		t.Fatalf("kind = %v, want ExitTrailing", d.Kind)
	}
	want := 103 * 0.99
	if math.Abs(d.Price-want) > 1e-9 {
		t.Errorf("price = %v, want %v", d.Price, want)
	}
}

func TestDecideExit_DerivativeTrailsWider(t *testing.T) {
	tr := longTrade(100, 95, [4]float64{120})
	tr.Signal.ExchangeType = "D"
	tr.Target1Hit = true
	tr.HighSince = 110
	cfg := DefaultExitConfig()

	// 5% band: trigger 104.5. A dip to 105 does not fire.
	d := DecideExit(tr, exitCandle(108, 109, 105, 107), cfg)
	if d.Kind != ExitNone {
		t.Fatalf("kind = %v, want none inside the 5%% band", d.Kind)
	}
	d = DecideExit(tr, exitCandle(106, 107, 104, 105), cfg)
	if d.Kind != ExitTrailing {
		t.Fatalf("kind = %v, want ExitTrailing", d.Kind)
	}
	want := 110 * 0.95
	if math.Abs(d.Price-want) > 1e-9 {
		t.Errorf("price = %v, want %v", d.Price, want)
	}
}

func TestDecideExit_ShortSideMirrors(t *testing.T) {
	tr := &model.ActiveTrade{
		TradeID:      "t-2",
		Signal:       model.Signal{ScripCode: "500112", Exchange: "N", Direction: model.DirectionShort},
		EntryPrice:   100,
		PositionSize: 100,
		StopLoss:     105,
		Targets:      [4]float64{90, 85},
		HighSince:    100,
		LowSince:     100,
		Status:       model.StatusActive,
		Meta:         model.NewMeta(),
	}
	cfg := DefaultExitConfig()

	// Bearish body on a short: the high printed first, stop wins.
	d := DecideExit(tr, exitCandle(103, 106, 89, 92), cfg)
	if d.Kind != ExitStop || d.Price != 105 {
		t.Fatalf("got kind=%v price=%v, want stop at 105", d.Kind, d.Price)
	}

	tr.StopLoss = 105
	tr.HighSince, tr.LowSince = 100, 100
	d = DecideExit(tr, exitCandle(95, 96, 89.5, 91), cfg)
	if d.Kind != ExitPartialT1 || d.Price != 90 {
		t.Fatalf("got kind=%v price=%v, want partial at 90", d.Kind, d.Price)
	}
}

func TestDecideExit_UpdatesFavorableExtremes(t *testing.T) {
	tr := longTrade(100, 95, [4]float64{200})

	DecideExit(tr, exitCandle(100, 101.5, 99, 101), DefaultExitConfig())
	if tr.HighSince != 101.5 || tr.LowSince != 99 {
		t.Errorf("extremes = %v/%v, want 101.5/99", tr.HighSince, tr.LowSince)
	}
	DecideExit(tr, exitCandle(101, 101.2, 100, 100.5), DefaultExitConfig())
	if tr.HighSince != 101.5 {
		t.Errorf("high regressed to %v", tr.HighSince)
	}
}
