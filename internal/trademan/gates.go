package trademan

import (
	"trade-enginev1/internal/model"
	"trade-enginev1/internal/ringbuf"
)

// GateConfig holds the entry-confirmation tunables.
type GateConfig struct {
	VolumeFactor float64 // candle volume vs rolling mean, default 1.5
	StopBuffer   float64 // stop anchor buffer below/above confirmation candle, default 0.001
}

// DefaultGateConfig returns the production gate settings.
func DefaultGateConfig() GateConfig {
	return GateConfig{VolumeFactor: 1.5, StopBuffer: 0.001}
}

// Confirmation is the outcome of a passing gate evaluation: the executable
// entry anchored to the confirmation candle. The recomputed stop overrides
// the hinted stop so risk is anchored to what the market actually printed.
type Confirmation struct {
	EntryPrice  float64
	StopLoss    float64
	PotentialRR float64
}

// EvaluateGates runs the three entry gates against the newest candle in the
// window. All three must pass on the same closed candle:
//
//  1. pivot retest — a persistent breach latch followed by a reclaim close
//  2. volume — current volume ≥ factor × rolling mean of prior candles
//  3. pattern — two-candle engulfing body in the trade direction
//
// The breach latch lives in the entry's metadata and survives across
// candles; UpdatePivotLatch must have been applied to every candle seen for
// this instrument (including preloaded history).
func EvaluateGates(e *model.WatchlistEntry, win *ringbuf.Window, pivot float64, cfg GateConfig) (Confirmation, bool) {
	cur, ok := win.Last()
	if !ok {
		return Confirmation{}, false
	}

	if pivot <= 0 {
		return Confirmation{}, false
	}
	if !e.Meta.Bool(model.MetaBreachedPivot) {
		return Confirmation{}, false
	}
	if !reclaimed(e.Signal.Direction, cur, pivot) {
		return Confirmation{}, false
	}

	mean := win.MeanVolumeExcludingLast()
	if mean <= 0 || float64(cur.Volume) < cfg.VolumeFactor*mean {
		return Confirmation{}, false
	}

	prior, ok := win.Prior()
	if !ok || !engulfing(e.Signal.Direction, prior, cur) {
		return Confirmation{}, false
	}

	conf := Confirmation{EntryPrice: cur.Close}
	if e.Signal.Direction == model.DirectionLong {
		conf.StopLoss = cur.Low * (1 - cfg.StopBuffer)
	} else {
		conf.StopLoss = cur.High * (1 + cfg.StopBuffer)
	}
	conf.PotentialRR = potentialRR(e.Signal.FirstTarget(), conf.EntryPrice, conf.StopLoss)
	e.Meta.Set(model.MetaPotentialRR, conf.PotentialRR)
	return conf, true
}

// UpdatePivotLatch marks the entry breached the first time price crosses
// the pivot against the trade direction. The latch is sticky.
func UpdatePivotLatch(e *model.WatchlistEntry, c model.Candle, pivot float64) {
	if pivot <= 0 || e.Meta.Bool(model.MetaBreachedPivot) {
		return
	}
	switch e.Signal.Direction {
	case model.DirectionLong:
		if c.Low <= pivot {
			e.Meta.Set(model.MetaBreachedPivot, true)
		}
	case model.DirectionShort:
		if c.High >= pivot {
			e.Meta.Set(model.MetaBreachedPivot, true)
		}
	}
}

// reclaimed reports whether the candle closed back on the signal's side of
// the pivot.
func reclaimed(d model.Direction, c model.Candle, pivot float64) bool {
	if d == model.DirectionLong {
		return c.Close > pivot
	}
	return c.Close < pivot
}

// engulfing tests the two-candle engulfing pattern on open/close bodies
// only: a prior body in the opposite direction fully contained by the
// current body in the trade direction.
func engulfing(d model.Direction, prior, cur model.Candle) bool {
	if d == model.DirectionLong {
		// prior bearish, current bullish, current body engulfs prior body
		return prior.Close < prior.Open &&
			cur.Close > cur.Open &&
			cur.Open <= prior.Close &&
			cur.Close >= prior.Open
	}
	// prior bullish, current bearish, current body engulfs prior body
	return prior.Close > prior.Open &&
		cur.Close < cur.Open &&
		cur.Open >= prior.Close &&
		cur.Close <= prior.Open
}

// potentialRR is reward over risk anchored to the recomputed stop.
// Zero risk yields zero, not infinity.
func potentialRR(firstTarget, entry, stop float64) float64 {
	risk := entry - stop
	if risk < 0 {
		risk = -risk
	}
	if risk == 0 || firstTarget <= 0 {
		return 0
	}
	reward := firstTarget - entry
	if reward < 0 {
		reward = -reward
	}
	return reward / risk
}
