// Package agg builds fixed-resolution OHLCV candles from the raw tick
// stream. It runs in a single goroutine per resolution and only emits a
// window once a tick from a later window arrives (open-window suppression),
// or when an explicit flush is triggered.
package agg

import (
	"context"
	"log"
	"time"

	"trade-enginev1/internal/model"
)

// windowState holds the in-progress candle for one instrument.
type windowState struct {
	start  time.Time
	candle model.Candle
}

// Builder aggregates ticks into candles of a single resolution.
// Volume is derived from positive deltas of the exchange's cumulative
// session volume; a reset (negative delta) contributes zero.
type Builder struct {
	resolution time.Duration

	states  map[string]*windowState // key = "exchange:scrip"
	lastCum map[string]int64        // last cumulative volume per instrument

	// Metrics hooks (optional, set externally)
	OnDefect      func() // OHLC invariant violation on a finalized candle
	OnDroppedTick func() // late tick older than the open window
}

// New creates a Builder for the given candle resolution.
func New(resolution time.Duration) *Builder {
	return &Builder{
		resolution: resolution,
		states:     make(map[string]*windowState),
		lastCum:    make(map[string]int64),
	}
}

// Run consumes ticks from tickCh in a single goroutine and sends finalized
// candles to candleCh. Blocks until ctx is cancelled or tickCh closes; open
// windows are flushed on exit.
func (b *Builder) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	for {
		select {
		case <-ctx.Done():
			b.FlushAll(ctx, candleCh)
			return
		case tick, ok := <-tickCh:
			if !ok {
				b.FlushAll(ctx, candleCh)
				return
			}
			b.ProcessTick(ctx, tick, candleCh)
		}
	}
}

// ProcessTick incorporates a single tick. Exported for replay and tests.
func (b *Builder) ProcessTick(ctx context.Context, tick model.Tick, candleCh chan<- model.Candle) {
	start := tick.EventTS.Truncate(b.resolution)
	key := tick.Key()

	state, exists := b.states[key]

	if exists && start.Before(state.start) {
		// Late tick — belongs to an already-advanced window, drop it
		if b.OnDroppedTick != nil {
			b.OnDroppedTick()
		}
		return
	}

	delta := b.volumeDelta(key, tick.CumVolume)

	if exists && start.After(state.start) {
		// New window — finalize the old candle first
		b.finalize(ctx, state, candleCh)
		delete(b.states, key)
		exists = false
	}

	if !exists {
		open := tick.Open
		if open <= 0 {
			open = tick.LastPrice
		}
		b.states[key] = &windowState{
			start: start,
			candle: model.Candle{
				ScripCode: tick.ScripCode,
				Exchange:  tick.Exchange,
				Start:     start,
				End:       start.Add(b.resolution),
				Open:      open,
				High:      tickHigh(tick),
				Low:       tickLow(tick),
				Close:     tick.LastPrice,
				Volume:    delta,
				Ticks:     1,
			},
		}
		return
	}

	// Same window — update running OHLCV
	c := &state.candle
	if h := tickHigh(tick); h > c.High {
		c.High = h
	}
	if l := tickLow(tick); l < c.Low {
		c.Low = l
	}
	c.Close = tick.LastPrice
	c.Volume += delta
	c.Ticks++
	// Exchange metadata follows the most recent tick
	c.Exchange = tick.Exchange
}

// FlushAll finalizes and emits every open window. Used on shutdown and by
// the market-close sweep, where no later-window tick will ever arrive.
func (b *Builder) FlushAll(ctx context.Context, candleCh chan<- model.Candle) {
	for key, state := range b.states {
		b.finalize(ctx, state, candleCh)
		delete(b.states, key)
	}
}

// volumeDelta returns the positive cumulative-volume delta, never negative.
func (b *Builder) volumeDelta(key string, cum int64) int64 {
	last, seen := b.lastCum[key]
	b.lastCum[key] = cum
	if !seen {
		return 0
	}
	if d := cum - last; d > 0 {
		return d
	}
	return 0
}

func (b *Builder) finalize(ctx context.Context, state *windowState, candleCh chan<- model.Candle) {
	c := state.candle
	if err := c.Validate(b.resolution); err != nil {
		// Defect candle is still emitted; downstream tolerates it and the
		// defect counter tracks the feed quality.
		log.Printf("[agg] OHLC defect: %v", err)
		if b.OnDefect != nil {
			b.OnDefect()
		}
	}
	// Closed candles feed exit supervision and must not be lost: block
	// until the consumer drains. Only shutdown may abandon the send.
	select {
	case candleCh <- c:
	case <-ctx.Done():
		select {
		case candleCh <- c:
		default:
			log.Printf("[agg] shutdown, dropping candle %s ts=%v", c.Key(), c.Start)
		}
	}
}

func tickHigh(t model.Tick) float64 {
	if t.High > 0 && t.High > t.LastPrice {
		return t.High
	}
	return t.LastPrice
}

func tickLow(t model.Tick) float64 {
	if t.Low > 0 && t.Low < t.LastPrice {
		return t.Low
	}
	return t.LastPrice
}
