package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trade-enginev1/internal/model"
)

// BufferedPublisher wraps a ResultPublisher with a local overflow buffer.
// When Redis is unreachable the events are parked in memory and flushed in
// order once publishing recovers, so a short outage never loses a lifecycle
// event. The buffer is bounded; past capacity the oldest events are dropped
// (and counted) rather than stalling the trading loop.
type BufferedPublisher struct {
	inner model.ResultPublisher

	mu     sync.Mutex
	buf    []model.Event
	maxBuf int

	retry time.Duration

	// Metrics hooks (optional)
	OnBuffered func()
	OnDropped  func()
	OnFlushed  func(count int)
}

// NewBufferedPublisher wraps inner with a buffer of at most maxBuf events.
func NewBufferedPublisher(inner model.ResultPublisher, maxBuf int, retry time.Duration) *BufferedPublisher {
	if maxBuf <= 0 {
		maxBuf = 10000
	}
	if retry <= 0 {
		retry = 5 * time.Second
	}
	return &BufferedPublisher{inner: inner, maxBuf: maxBuf, retry: retry}
}

// Publish forwards the event, buffering it on failure. Always returns nil:
// delivery is this type's problem, not the caller's.
func (b *BufferedPublisher) Publish(ctx context.Context, ev model.Event) error {
	b.mu.Lock()
	backlog := len(b.buf) > 0
	b.mu.Unlock()

	if !backlog {
		if err := b.inner.Publish(ctx, ev); err == nil {
			return nil
		} else {
			slog.Warn("result publish failed, buffering", "kind", ev.Kind, "err", err)
		}
	}
	b.push(ev)
	return nil
}

func (b *BufferedPublisher) push(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) >= b.maxBuf {
		b.buf = b.buf[1:]
		if b.OnDropped != nil {
			b.OnDropped()
		}
	}
	b.buf = append(b.buf, ev)
	if b.OnBuffered != nil {
		b.OnBuffered()
	}
}

// Run retries the backlog until ctx is cancelled. A final flush attempt is
// made on shutdown.
func (b *BufferedPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.retry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			b.flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

// flush drains the buffer in order, stopping at the first failure to keep
// event ordering intact.
func (b *BufferedPublisher) flush(ctx context.Context) {
	b.mu.Lock()
	pending := append([]model.Event(nil), b.buf...)
	b.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	sent := 0
	for _, ev := range pending {
		if err := b.inner.Publish(ctx, ev); err != nil {
			break
		}
		sent++
	}
	if sent == 0 {
		return
	}

	b.mu.Lock()
	b.buf = b.buf[sent:]
	b.mu.Unlock()
	if b.OnFlushed != nil {
		b.OnFlushed(sent)
	}
	slog.Info("flushed buffered results", "count", sent)
}
