// Package router validates, deduplicates and classifies incoming trading
// signals. A signal is either forwarded live to the trade manager, routed
// to the backtest engine when it is too old to act on, or dead-lettered
// when it cannot be trusted. The source offset is only acknowledged after
// the downstream hand-off returns (at-least-once delivery).
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trade-enginev1/internal/logger"
	"trade-enginev1/internal/markethours"
	"trade-enginev1/internal/model"
)

// Validation categories carried on dead letters.
const (
	CategoryParse      = "PARSE_FAILURE"
	CategoryValidation = "VALIDATION_FAILURE"
	CategoryClockSkew  = "CLOCK_SKEW"
)

// LiveSink admits a live candidate into the trade manager watchlist.
type LiveSink interface {
	Admit(ctx context.Context, sig model.Signal) error
}

// BacktestSink accepts a stale signal for historical replay.
type BacktestSink interface {
	Enqueue(ctx context.Context, sig model.Signal) error
}

// Config holds router tunables.
type Config struct {
	LiveThreshold time.Duration // max age for live routing, default 120s
	DedupTTL      time.Duration // idempotency-set TTL, default 30m
}

func (c Config) withDefaults() Config {
	if c.LiveThreshold <= 0 {
		c.LiveThreshold = 120 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 30 * time.Minute
	}
	return c
}

// Router is the signal ingress. Safe for use by a single consumer
// goroutine per input stream.
type Router struct {
	cfg      Config
	dedup    model.IdempotencyStore
	live     LiveSink
	backtest BacktestSink
	dlq      model.DeadLetterSink
	now      func() time.Time

	// Metrics hooks (optional)
	OnLive      func()
	OnBacktest  func()
	OnRejected  func()
	OnDuplicate func()
}

// New creates a Router.
func New(cfg Config, dedup model.IdempotencyStore, live LiveSink, backtest BacktestSink, dlq model.DeadLetterSink) *Router {
	return &Router{
		cfg:      cfg.withDefaults(),
		dedup:    dedup,
		live:     live,
		backtest: backtest,
		dlq:      dlq,
		now:      time.Now,
	}
}

// OnSignal processes one raw signal record. A nil return means the source
// offset may be acknowledged: the signal was handed off, discarded as a
// duplicate, or dead-lettered. A non-nil return means the hand-off itself
// failed and the record must be redelivered.
func (r *Router) OnSignal(ctx context.Context, raw []byte, source, offset string) error {
	ingest := r.now()

	sig, err := Parse(raw, ingest)
	if err != nil {
		return r.reject(ctx, raw, source, offset, CategoryParse, err)
	}

	if sig.TraceID == "" {
		sig.TraceID = logger.NewTraceID()
	}
	ctx = logger.WithTraceID(ctx, sig.TraceID)

	if err := Validate(sig); err != nil {
		return r.reject(ctx, raw, source, offset, CategoryValidation, err)
	}

	// Signed age: a future-stamped signal is clock skew, never tradable.
	age := sig.Age()
	if age < 0 {
		return r.reject(ctx, raw, source, offset, CategoryClockSkew,
			fmt.Errorf("signal from the future: age %v", age))
	}

	first, err := r.dedup.FirstSeen(ctx, sig.IdempotencyKey(), r.cfg.DedupTTL)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !first {
		if r.OnDuplicate != nil {
			r.OnDuplicate()
		}
		slog.Debug("duplicate signal discarded", append(logger.LogWithTrace(ctx), "key", sig.IdempotencyKey())...)
		return nil
	}

	if age > r.cfg.LiveThreshold {
		return r.toBacktest(ctx, sig, "stale")
	}
	if !markethours.IsWithinTradingHours(sig.Exchange, ingest) {
		// Off-hours live signal: replay it instead of dropping it.
		return r.toBacktest(ctx, sig, "off-hours")
	}

	if err := r.live.Admit(ctx, sig); err != nil {
		return fmt.Errorf("live admit %s: %w", sig.Key(), err)
	}
	if r.OnLive != nil {
		r.OnLive()
	}
	slog.Info("signal routed live", append(logger.LogWithTrace(ctx),
		"scrip", sig.ScripCode, "direction", sig.Direction, "age", age.String())...)
	return nil
}

func (r *Router) toBacktest(ctx context.Context, sig model.Signal, why string) error {
	if err := r.backtest.Enqueue(ctx, sig); err != nil {
		return fmt.Errorf("backtest enqueue %s: %w", sig.Key(), err)
	}
	if r.OnBacktest != nil {
		r.OnBacktest()
	}
	slog.Info("signal routed to backtest", append(logger.LogWithTrace(ctx),
		"scrip", sig.ScripCode, "reason", why)...)
	return nil
}

func (r *Router) reject(ctx context.Context, raw []byte, source, offset, category string, cause error) error {
	if r.OnRejected != nil {
		r.OnRejected()
	}
	dl := model.DeadLetter{
		Source:   source,
		Offset:   offset,
		Payload:  raw,
		Category: category,
		Message:  cause.Error(),
		At:       r.now(),
		TraceID:  logger.TraceID(ctx),
	}
	if err := r.dlq.Publish(ctx, dl); err != nil {
		return fmt.Errorf("dead-letter publish: %w", err)
	}
	slog.Warn("signal rejected", append(logger.LogWithTrace(ctx),
		"category", category, "err", cause.Error())...)
	return nil
}
