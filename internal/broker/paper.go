package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trade-enginev1/internal/model"
)

// PaperBroker simulates order execution without real broker calls.
// Used in SIMULATION mode and in tests. Fills apply adverse slippage in
// basis points against limit/trigger prices.
type PaperBroker struct {
	mu          sync.Mutex
	orderSeq    int64
	fills       map[string]model.OrderAck // by client token, for idempotency
	slippageBps int64
}

// NewPaperBroker creates a paper broker with the given slippage.
func NewPaperBroker(slippageBps int64) *PaperBroker {
	return &PaperBroker{
		fills:       make(map[string]model.OrderAck),
		slippageBps: slippageBps,
	}
}

// Place fills the order immediately. Re-submitting a client token returns
// the original acknowledgement without a second fill.
func (p *PaperBroker) Place(ctx context.Context, o model.Order) (model.OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ack, ok := p.fills[o.ClientToken]; ok {
		return ack, nil
	}

	p.orderSeq++
	fillPrice := o.LimitPrice
	if fillPrice == 0 {
		fillPrice = o.TriggerPrice
	}
	if fillPrice > 0 && p.slippageBps > 0 {
		slip := fillPrice * float64(p.slippageBps) / 10000
		if o.Side == model.SideBuy {
			fillPrice += slip // buy higher
		} else {
			fillPrice -= slip // sell lower
		}
	}

	ack := model.OrderAck{
		BrokerOrderID: fmt.Sprintf("PAPER-%d", p.orderSeq),
		Status:        "FILLED",
		FillPrice:     fillPrice,
		PlacedAt:      time.Now(),
	}
	p.fills[o.ClientToken] = ack

	log.Printf("[paper] %s %s %s:%s qty=%d price=%.2f order=%s",
		o.Side, o.Type, o.Exchange, o.ScripCode, o.Qty, fillPrice, ack.BrokerOrderID)
	return ack, nil
}

// Cancel is a no-op for already-filled paper orders.
func (p *PaperBroker) Cancel(ctx context.Context, brokerOrderID string) error {
	log.Printf("[paper] cancel %s", brokerOrderID)
	return nil
}

// Ping always succeeds.
func (p *PaperBroker) Ping(ctx context.Context) error { return nil }
