package trademan

import "github.com/shopspring/decimal"

// SizerConfig bounds position sizing. Capital and limits are rupee amounts.
type SizerConfig struct {
	Capital         decimal.Decimal
	MaxRiskPct      decimal.Decimal // risk per trade as % of capital, default 1
	MaxSinglePct    decimal.Decimal // notional cap as % of capital, default 25
	MaxPositionSize int64           // hard share cap, default 10000
}

// DefaultSizerConfig returns the production sizing limits for the given
// capital.
func DefaultSizerConfig(capital decimal.Decimal) SizerConfig {
	return SizerConfig{
		Capital:         capital,
		MaxRiskPct:      decimal.NewFromInt(1),
		MaxSinglePct:    decimal.NewFromInt(25),
		MaxPositionSize: 10000,
	}
}

var oneHundred = decimal.NewFromInt(100)

// PositionSize computes the share quantity for an entry. The quantity is the
// tightest of three limits: risk budget over per-share risk, the notional
// cap, and the hard share cap. Anything below one share sizes to zero and
// the caller cancels the trade.
func PositionSize(cfg SizerConfig, entry, stop float64) int64 {
	e := decimal.NewFromFloat(entry)
	s := decimal.NewFromFloat(stop)
	if e.Sign() <= 0 {
		return 0
	}
	riskPerShare := e.Sub(s).Abs()
	if riskPerShare.Sign() <= 0 {
		return 0
	}

	riskBudget := cfg.Capital.Mul(cfg.MaxRiskPct).Div(oneHundred)
	byRisk := riskBudget.Div(riskPerShare).IntPart()

	notionalCap := cfg.Capital.Mul(cfg.MaxSinglePct).Div(oneHundred)
	byNotional := notionalCap.Div(e).IntPart()

	qty := byRisk
	if byNotional < qty {
		qty = byNotional
	}
	if cfg.MaxPositionSize > 0 && cfg.MaxPositionSize < qty {
		qty = cfg.MaxPositionSize
	}
	if qty < 1 {
		return 0
	}
	return qty
}
