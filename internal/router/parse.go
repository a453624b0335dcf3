package router

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"trade-enginev1/internal/markethours"
	"trade-enginev1/internal/model"
)

// Plausibility bounds for entry hints. Anything outside is producer junk.
const (
	minPlausiblePrice = 0.05
	maxPlausiblePrice = 1_000_000
)

// wireSignal mirrors the trading-signals JSON record. Unknown fields are
// ignored by encoding/json as required.
type wireSignal struct {
	ScripCode       json.Number `json:"scripCode"`
	CompanyName     string      `json:"companyName"`
	Exchange        string      `json:"exchange"`
	ExchangeType    string      `json:"exchangeType"`
	Signal          string      `json:"signal"`
	Direction       string      `json:"direction"`
	EntryPrice      float64     `json:"entryPrice"`
	StopLoss        float64     `json:"stopLoss"`
	Target1         float64     `json:"target1"`
	Target2         float64     `json:"target2"`
	Target3         float64     `json:"target3"`
	Target4         float64     `json:"target4"`
	Timestamp       int64       `json:"timestamp"` // epoch millis, producer time
	Confidence      float64     `json:"confidence"`
	RiskRewardRatio float64     `json:"riskRewardRatio"`
	Rationale       string      `json:"rationale"`
	ATR30m          float64     `json:"atr30m"`
	OIChangeRatio   float64     `json:"oiChangeRatio"`
	VolumeT         float64     `json:"volumeT"`
	SurgeT          float64     `json:"surgeT"`
	PivotSource     float64     `json:"pivotSource"`
	TraceID         string      `json:"traceId"`
}

// Parse decodes and normalizes one raw signal record.
func Parse(raw []byte, ingest time.Time) (model.Signal, error) {
	var w wireSignal
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Signal{}, fmt.Errorf("decode signal: %w", err)
	}

	dirToken := w.Direction
	if dirToken == "" {
		dirToken = w.Signal
	}
	dir, err := model.ParseDirection(dirToken)
	if err != nil {
		return model.Signal{}, err
	}

	scrip := strings.TrimSpace(w.ScripCode.String())
	if scrip == "" || scrip == "0" {
		return model.Signal{}, fmt.Errorf("missing scripCode")
	}
	if w.Timestamp <= 0 {
		return model.Signal{}, fmt.Errorf("missing producer timestamp")
	}

	return model.Signal{
		ScripCode:    scrip,
		CompanyName:  strings.TrimSpace(w.CompanyName),
		Exchange:     strings.TrimSpace(w.Exchange),
		ExchangeType: strings.TrimSpace(w.ExchangeType),
		Direction:    dir,
		SignalKind:   strings.TrimSpace(dirToken),
		EntryHint:    w.EntryPrice,
		StopLossHint: w.StopLoss,
		Targets:      [4]float64{w.Target1, w.Target2, w.Target3, w.Target4},
		OriginTS:     time.UnixMilli(w.Timestamp).In(markethours.IST),
		IngestTS:     ingest,
		Confidence:   w.Confidence,
		RiskReward:   w.RiskRewardRatio,
		ATR:          w.ATR30m,
		VolumeT:      w.VolumeT,
		SurgeT:       w.SurgeT,
		OIChange:     w.OIChangeRatio,
		PivotHint:    w.PivotSource,
		Rationale:    strings.TrimSpace(w.Rationale),
		TraceID:      strings.TrimSpace(w.TraceID),
	}, nil
}

// Validate enforces the admission rules on a parsed signal.
func Validate(sig model.Signal) error {
	if sig.Exchange == "" {
		return fmt.Errorf("missing exchange")
	}
	for _, v := range []float64{sig.EntryHint, sig.StopLossHint, sig.Targets[0], sig.Targets[1], sig.Targets[2], sig.Targets[3], sig.Confidence, sig.RiskReward} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite price field")
		}
	}
	if sig.EntryHint <= 0 {
		return fmt.Errorf("entryPrice %.4f must be positive", sig.EntryHint)
	}
	if sig.EntryHint < minPlausiblePrice || sig.EntryHint > maxPlausiblePrice {
		return fmt.Errorf("entryPrice %.4f outside plausible range", sig.EntryHint)
	}
	if sig.StopLossHint <= 0 {
		return fmt.Errorf("stopLoss %.4f must be positive", sig.StopLossHint)
	}
	t1 := sig.FirstTarget()
	if t1 <= 0 {
		return fmt.Errorf("no positive target")
	}

	// Direction consistency and monotonic target ladder
	switch sig.Direction {
	case model.DirectionLong:
		if sig.StopLossHint >= sig.EntryHint {
			return fmt.Errorf("long stopLoss %.2f not below entry %.2f", sig.StopLossHint, sig.EntryHint)
		}
		if t1 <= sig.EntryHint {
			return fmt.Errorf("long target1 %.2f not above entry %.2f", t1, sig.EntryHint)
		}
		prev := 0.0
		for i, t := range sig.Targets {
			if t == 0 {
				continue
			}
			if t <= prev {
				return fmt.Errorf("long targets not ascending at t%d", i+1)
			}
			prev = t
		}
	case model.DirectionShort:
		if sig.StopLossHint <= sig.EntryHint {
			return fmt.Errorf("short stopLoss %.2f not above entry %.2f", sig.StopLossHint, sig.EntryHint)
		}
		if t1 >= sig.EntryHint {
			return fmt.Errorf("short target1 %.2f not below entry %.2f", t1, sig.EntryHint)
		}
		prev := math.MaxFloat64
		for i, t := range sig.Targets {
			if t == 0 {
				continue
			}
			if t >= prev {
				return fmt.Errorf("short targets not descending at t%d", i+1)
			}
			prev = t
		}
	default:
		return fmt.Errorf("unknown direction %q", sig.Direction)
	}
	return nil
}
