package trademan

import "trade-enginev1/internal/model"

// ExitKind classifies the exit decision for one closed candle.
type ExitKind int

const (
	ExitNone ExitKind = iota
	ExitStop             // full close at the stop-loss
	ExitPartialT1        // 50% partial at target 1
	ExitPartialGap       // 50% partial at candle close (price gapped past T1)
	ExitFullTarget       // full close at target N (N ≥ 2)
	ExitTrailing         // full close at the trailing trigger
)

// ExitDecision is the outcome of exit supervision on one candle.
type ExitDecision struct {
	Kind      ExitKind
	Price     float64
	TargetIdx int // index into Targets for target exits
}

// ExitConfig holds exit-supervision tunables.
type ExitConfig struct {
	TrailingPctEquity     float64 // default 1.0
	TrailingPctDerivative float64 // default 5.0
	EarlyTrailPct         float64 // favorable move activating the trail early, default 2.0
}

// DefaultExitConfig returns the production exit settings.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{TrailingPctEquity: 1.0, TrailingPctDerivative: 5.0, EarlyTrailPct: 2.0}
}

func (c ExitConfig) trailingPct(sig model.Signal) float64 {
	if sig.IsDerivative() {
		return c.TrailingPctDerivative
	}
	return c.TrailingPctEquity
}

// DecideExit runs exit supervision for one closed candle. It mutates the
// trade's favorable extremes (HighSince/LowSince) and returns the exit to
// execute, if any. Priority: stop-loss, T1 partial (with gap protection),
// later targets (only once T1 is done), trailing stop.
//
// When the candle's range touches both the stop and a target, the
// intrabar sequence is inferred: a gap open beyond either level decides
// immediately; otherwise a bullish body means the low printed first, a
// bearish body the high.
func DecideExit(t *model.ActiveTrade, c model.Candle, cfg ExitConfig) ExitDecision {
	long := t.Direction() == model.DirectionLong

	// Favorable extremes update every candle; the trail anchors to them.
	if c.High > t.HighSince {
		t.HighSince = c.High
	}
	if c.Low < t.LowSince || t.LowSince == 0 {
		t.LowSince = c.Low
	}

	stopTouched := touchedAdverse(long, c, t.StopLoss)

	t1 := t.Targets[0]
	t1Touched := t1 > 0 && touchedFavorable(long, c, t1)

	if stopTouched {
		targetPrice := firstTouchedTarget(t, c, long)
		if targetPrice == 0 || stopWinsTieBreak(long, c, t.StopLoss, targetPrice) {
			return ExitDecision{Kind: ExitStop, Price: t.StopLoss}
		}
	}

	if !t.Target1Hit {
		// Gap protection: when the candle already cleared T2 the T1 fill
		// price is fiction; take the partial at the close to capture the gap.
		if t2 := t.Targets[1]; t2 > 0 && touchedFavorable(long, c, t2) {
			return ExitDecision{Kind: ExitPartialGap, Price: c.Close, TargetIdx: 0}
		}
		if t1Touched {
			return ExitDecision{Kind: ExitPartialT1, Price: t1, TargetIdx: 0}
		}
	} else {
		// Later targets, best touched fill wins.
		for i := 3; i >= 1; i-- {
			tn := t.Targets[i]
			if tn > 0 && touchedFavorable(long, c, tn) {
				return ExitDecision{Kind: ExitFullTarget, Price: tn, TargetIdx: i}
			}
		}
	}

	if trigger, armed := trailingTrigger(t, cfg); armed {
		if touchedAdverse(long, c, trigger) {
			return ExitDecision{Kind: ExitTrailing, Price: trigger}
		}
	}

	return ExitDecision{Kind: ExitNone}
}

// trailingTrigger returns the trailing stop level and whether the trail is
// active. The trail arms after the T1 partial, or early once the trade has
// moved EarlyTrailPct in its favor since entry.
func trailingTrigger(t *model.ActiveTrade, cfg ExitConfig) (float64, bool) {
	long := t.Direction() == model.DirectionLong
	armed := t.Target1Hit
	if !armed && cfg.EarlyTrailPct > 0 {
		if long {
			armed = t.HighSince >= t.EntryPrice*(1+cfg.EarlyTrailPct/100)
		} else {
			armed = t.LowSince <= t.EntryPrice*(1-cfg.EarlyTrailPct/100)
		}
	}
	if !armed {
		return 0, false
	}
	pct := cfg.trailingPct(t.Signal)
	if long {
		return t.HighSince * (1 - pct/100), true
	}
	return t.LowSince * (1 + pct/100), true
}

// touchedAdverse reports whether the candle range reached an adverse level
// (below on a long, above on a short).
func touchedAdverse(long bool, c model.Candle, level float64) bool {
	if long {
		return c.Low <= level
	}
	return c.High >= level
}

// touchedFavorable reports whether the candle range reached a favorable
// level (above on a long, below on a short).
func touchedFavorable(long bool, c model.Candle, level float64) bool {
	if long {
		return c.High >= level
	}
	return c.Low <= level
}

// firstTouchedTarget returns the nearest touched target price relevant for
// the stop-vs-target tie-break, or 0 when none is in range.
func firstTouchedTarget(t *model.ActiveTrade, c model.Candle, long bool) float64 {
	if !t.Target1Hit {
		if t1 := t.Targets[0]; t1 > 0 && touchedFavorable(long, c, t1) {
			return t1
		}
		return 0
	}
	for _, tn := range t.Targets[1:] {
		if tn > 0 && touchedFavorable(long, c, tn) {
			return tn
		}
	}
	return 0
}

// stopWinsTieBreak decides the intrabar sequence when both the stop and a
// target are inside the candle's range.
func stopWinsTieBreak(long bool, c model.Candle, stop, target float64) bool {
	if long {
		if c.Open <= stop {
			return true // gapped through the stop
		}
		if c.Open >= target {
			return false // gapped through the target
		}
	} else {
		if c.Open >= stop {
			return true
		}
		if c.Open <= target {
			return false
		}
	}
	// Bullish body: the low printed before the high.
	lowFirst := c.Close > c.Open
	if long {
		// Stop sits at the low side of a long.
		return lowFirst
	}
	return !lowFirst
}
