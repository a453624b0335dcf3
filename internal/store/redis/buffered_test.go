package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"trade-enginev1/internal/model"
)

type flakyPublisher struct {
	mu     sync.Mutex
	down   bool
	events []model.Event
}

func (f *flakyPublisher) Publish(ctx context.Context, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *flakyPublisher) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *flakyPublisher) published() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Event(nil), f.events...)
}

func ev(n int) model.Event {
	return model.Event{Kind: model.EventTradeClosed, TradeID: fmt.Sprintf("t-%d", n), At: time.Now()}
}

func TestBufferedPublisher_PassThrough(t *testing.T) {
	inner := &flakyPublisher{}
	b := NewBufferedPublisher(inner, 10, time.Second)

	if err := b.Publish(context.Background(), ev(1)); err != nil {
		t.Fatal(err)
	}
	if len(inner.published()) != 1 {
		t.Fatal("event not forwarded while healthy")
	}
}

func TestBufferedPublisher_BuffersAndFlushesInOrder(t *testing.T) {
	inner := &flakyPublisher{down: true}
	b := NewBufferedPublisher(inner, 10, time.Second)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := b.Publish(ctx, ev(i)); err != nil {
			t.Fatalf("buffered publish must not error: %v", err)
		}
	}
	if len(inner.published()) != 0 {
		t.Fatal("events delivered while down")
	}

	inner.setDown(false)
	// A new publish while a backlog exists must queue behind it.
	if err := b.Publish(ctx, ev(4)); err != nil {
		t.Fatal(err)
	}
	b.flush(ctx)

	got := inner.published()
	if len(got) != 4 {
		t.Fatalf("published = %d, want 4", len(got))
	}
	for i, e := range got {
		if want := fmt.Sprintf("t-%d", i+1); e.TradeID != want {
			t.Errorf("order violated at %d: got %s want %s", i, e.TradeID, want)
		}
	}
}

func TestBufferedPublisher_DropsOldestPastCapacity(t *testing.T) {
	inner := &flakyPublisher{down: true}
	b := NewBufferedPublisher(inner, 2, time.Second)
	dropped := 0
	b.OnDropped = func() { dropped++ }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_ = b.Publish(ctx, ev(i))
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}

	inner.setDown(false)
	b.flush(ctx)
	got := inner.published()
	if len(got) != 2 || got[0].TradeID != "t-2" || got[1].TradeID != "t-3" {
		t.Fatalf("unexpected survivors: %+v", got)
	}
}

func TestBufferedPublisher_PartialFlushKeepsRemainder(t *testing.T) {
	inner := &flakyPublisher{down: true}
	b := NewBufferedPublisher(inner, 10, time.Second)
	ctx := context.Background()

	_ = b.Publish(ctx, ev(1))
	_ = b.Publish(ctx, ev(2))

	// Still down: flush is a no-op, nothing is lost.
	b.flush(ctx)
	if len(inner.published()) != 0 {
		t.Fatal("flush delivered while down")
	}

	inner.setDown(false)
	b.flush(ctx)
	if len(inner.published()) != 2 {
		t.Fatalf("published = %d, want 2", len(inner.published()))
	}
}
