package trademan

import (
	"math"
	"testing"
	"time"

	"trade-enginev1/internal/model"
	"trade-enginev1/internal/ringbuf"
)

func gateCandle(start time.Time, o, h, l, c float64, vol int64) model.Candle {
	return model.Candle{
		ScripCode: "49812", Exchange: "N",
		Start: start, End: start.Add(5 * time.Minute),
		Open: o, High: h, Low: l, Close: c, Volume: vol,
	}
}

// confirmationSetup builds the canonical passing sequence: a pivot breach,
// a bearish prior, then a high-volume bullish engulfing close back above
// the pivot.
func confirmationSetup(t *testing.T) (*model.WatchlistEntry, *ringbuf.Window, float64) {
	t.Helper()
	sig := model.Signal{
		ScripCode: "49812", Exchange: "N", ExchangeType: "C",
		Direction: model.DirectionLong,
		EntryHint: 100, StopLossHint: 95,
		Targets: [4]float64{110, 115},
	}
	e := model.NewWatchlistEntry(sig, time.Now())
	win := ringbuf.NewWindow(20)
	pivot := 98.0
	start := time.Date(2026, time.August, 18, 10, 45, 0, 0, time.UTC)

	seq := []model.Candle{
		gateCandle(start, 99.8, 100.0, 97.0, 99.3, 1000),                      // breach: low under pivot
		gateCandle(start.Add(5*time.Minute), 100.3, 100.4, 99.1, 99.2, 1000),  // bearish prior
		gateCandle(start.Add(10*time.Minute), 99.0, 101.0, 97.5, 100.5, 2000), // engulfing confirmation
	}
	for _, c := range seq {
		win.Append(c)
		UpdatePivotLatch(e, c, pivot)
	}
	return e, win, pivot
}

func TestEvaluateGates_AllThreePass(t *testing.T) {
	e, win, pivot := confirmationSetup(t)

	conf, ok := EvaluateGates(e, win, pivot, DefaultGateConfig())
	if !ok {
		t.Fatal("gates did not pass")
	}
	if conf.EntryPrice != 100.5 {
		t.Errorf("entry = %v, want confirmation close 100.5", conf.EntryPrice)
	}
	wantStop := 97.5 * (1 - 0.001)
	if math.Abs(conf.StopLoss-wantStop) > 1e-9 {
		t.Errorf("stop = %v, want %v", conf.StopLoss, wantStop)
	}
	wantRR := (110 - 100.5) / (100.5 - wantStop)
	if math.Abs(conf.PotentialRR-wantRR) > 1e-9 {
		t.Errorf("rr = %v, want %v", conf.PotentialRR, wantRR)
	}
	if e.Meta.Float(model.MetaPotentialRR) != conf.PotentialRR {
		t.Error("potential RR not recorded in entry metadata")
	}
}

func TestEvaluateGates_NoPivotNoEntry(t *testing.T) {
	e, win, _ := confirmationSetup(t)
	if _, ok := EvaluateGates(e, win, 0, DefaultGateConfig()); ok {
		t.Error("entry confirmed without a pivot")
	}
}

func TestEvaluateGates_RequiresBreachBeforeReclaim(t *testing.T) {
	// Same shape but the pivot sits below every low: never breached.
	e, win, _ := confirmationSetup(t)
	fresh := model.NewWatchlistEntry(e.Signal, time.Now())
	if _, ok := EvaluateGates(fresh, win, 90.0, DefaultGateConfig()); ok {
		t.Error("entry confirmed without a prior pivot breach")
	}
}

func TestEvaluateGates_VolumeGate(t *testing.T) {
	e, win, pivot := confirmationSetup(t)

	// Replace the confirmation with an identical candle at average volume.
	start := time.Date(2026, time.August, 18, 11, 0, 0, 0, time.UTC)
	win.Append(gateCandle(start, 100.3, 100.4, 99.1, 99.2, 1000)) // bearish prior again
	win.Append(gateCandle(start.Add(5*time.Minute), 99.0, 101.0, 97.5, 100.5, 1100))
	if _, ok := EvaluateGates(e, win, pivot, DefaultGateConfig()); ok {
		t.Error("entry confirmed without a volume surge")
	}
}

func TestEvaluateGates_EngulfingRequired(t *testing.T) {
	e, _, pivot := confirmationSetup(t)
	win := ringbuf.NewWindow(20)
	start := time.Date(2026, time.August, 18, 10, 45, 0, 0, time.UTC)

	// Bullish prior: no bearish body to engulf.
	win.Append(gateCandle(start, 99.8, 100.0, 97.0, 99.3, 1000))
	win.Append(gateCandle(start.Add(5*time.Minute), 99.1, 100.4, 99.0, 100.2, 1000))
	win.Append(gateCandle(start.Add(10*time.Minute), 99.0, 101.0, 98.4, 100.5, 2000))
	if _, ok := EvaluateGates(e, win, pivot, DefaultGateConfig()); ok {
		t.Error("entry confirmed without an engulfing pattern")
	}
}

func TestEvaluateGates_ShortSide(t *testing.T) {
	sig := model.Signal{
		ScripCode: "500112", Exchange: "N", ExchangeType: "C",
		Direction: model.DirectionShort,
		EntryHint: 100, StopLossHint: 105,
		Targets: [4]float64{92},
	}
	e := model.NewWatchlistEntry(sig, time.Now())
	win := ringbuf.NewWindow(20)
	pivot := 102.0
	start := time.Date(2026, time.August, 18, 10, 45, 0, 0, time.UTC)

	seq := []model.Candle{
		gateCandle(start, 100.2, 103.0, 100.0, 100.8, 1000),                    // breach: high over pivot
		gateCandle(start.Add(5*time.Minute), 99.8, 101.0, 99.6, 100.9, 1000),   // bullish prior
		gateCandle(start.Add(10*time.Minute), 101.0, 101.5, 99.0, 99.5, 2000),  // bearish engulfing under pivot
	}
	for _, c := range seq {
		win.Append(c)
		UpdatePivotLatch(e, c, pivot)
	}

	conf, ok := EvaluateGates(e, win, pivot, DefaultGateConfig())
	if !ok {
		t.Fatal("short gates did not pass")
	}
	wantStop := 101.5 * (1 + 0.001)
	if math.Abs(conf.StopLoss-wantStop) > 1e-9 {
		t.Errorf("stop = %v, want %v", conf.StopLoss, wantStop)
	}
}

func TestUpdatePivotLatch_Sticky(t *testing.T) {
	sig := model.Signal{ScripCode: "49812", Exchange: "N", Direction: model.DirectionLong}
	e := model.NewWatchlistEntry(sig, time.Now())
	start := time.Date(2026, time.August, 18, 10, 45, 0, 0, time.UTC)

	UpdatePivotLatch(e, gateCandle(start, 100, 101, 99, 100.5, 500), 98)
	if e.Meta.Bool(model.MetaBreachedPivot) {
		t.Fatal("latched without touching the pivot")
	}
	UpdatePivotLatch(e, gateCandle(start, 99, 99.5, 97.9, 99.2, 500), 98)
	if !e.Meta.Bool(model.MetaBreachedPivot) {
		t.Fatal("breach not latched")
	}
	// Subsequent candles far from the pivot keep the latch.
	UpdatePivotLatch(e, gateCandle(start, 103, 104, 102.5, 103.5, 500), 98)
	if !e.Meta.Bool(model.MetaBreachedPivot) {
		t.Fatal("latch must be sticky")
	}
}

func TestPotentialRR_ZeroRisk(t *testing.T) {
	if rr := potentialRR(110, 100, 100); rr != 0 {
		t.Errorf("rr = %v, want 0 for zero risk", rr)
	}
}
