package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trade-enginev1/internal/logger"
	"trade-enginev1/internal/model"
)

// GatewayConfig configures retry and breaker behaviour.
type GatewayConfig struct {
	MaxAttempts    int             // default 3
	Backoffs       []time.Duration // per-retry waits, default 1s,2s,4s
	AttemptTimeout time.Duration   // per-attempt deadline, default 10s
	ShutdownGrace  time.Duration   // in-flight grace on Close, default 15s
	Shadow         bool            // log intents instead of placing
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if len(c.Backoffs) == 0 {
		c.Backoffs = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 15 * time.Second
	}
	return c
}

// Gateway wraps a Broker transport with retry, circuit breaking and the
// dead-letter path. Idempotency rests on Order.ClientToken: retries reuse
// the token, so the broker never sees the same intent twice as two orders.
type Gateway struct {
	transport model.Broker
	cb        *CircuitBreaker
	dlq       model.DeadLetterSink
	cfg       GatewayConfig

	wg       sync.WaitGroup
	mu       sync.Mutex
	draining bool

	// Metrics hooks (optional)
	OnOrderFailed func()
	OnRetry       func()
}

// NewGateway creates a Gateway over the given transport.
func NewGateway(transport model.Broker, cb *CircuitBreaker, dlq model.DeadLetterSink, cfg GatewayConfig) *Gateway {
	return &Gateway{
		transport: transport,
		cb:        cb,
		dlq:       dlq,
		cfg:       cfg.withDefaults(),
	}
}

// Place submits an order with retry on transient failures only. On terminal
// failure the intent and last error are dead-lettered and the error is
// returned for the caller's FAILED transition.
func (g *Gateway) Place(ctx context.Context, o model.Order) (model.OrderAck, error) {
	g.mu.Lock()
	if g.draining {
		g.mu.Unlock()
		return model.OrderAck{}, Permanent("SHUTTING_DOWN", fmt.Errorf("gateway draining"))
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	if g.cfg.Shadow {
		slog.Info("shadow order", append(logger.LogWithTrace(ctx),
			"scrip", o.ScripCode, "side", o.Side, "type", o.Type, "qty", o.Qty)...)
		return model.OrderAck{BrokerOrderID: "SHADOW-" + o.ClientToken, Status: "SHADOW", PlacedAt: time.Now()}, nil
	}

	var ack model.OrderAck
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := g.cfg.Backoffs[min(attempt-1, len(g.cfg.Backoffs)-1)]
			if g.OnRetry != nil {
				g.OnRetry()
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				lastErr = ctx.Err()
				return model.OrderAck{}, g.deadLetter(ctx, o, lastErr)
			}
		}

		lastErr = g.cb.Execute(func() error {
			actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
			defer cancel()
			var err error
			ack, err = g.transport.Place(actx, o)
			return err
		})
		if lastErr == nil {
			return ack, nil
		}
		if lastErr == ErrCircuitOpen || !IsTransient(lastErr) {
			break
		}
		slog.Warn("order attempt failed, retrying", append(logger.LogWithTrace(ctx),
			"attempt", attempt+1, "scrip", o.ScripCode, "err", lastErr)...)
	}

	return model.OrderAck{}, g.deadLetter(ctx, o, lastErr)
}

// Cancel cancels an order; used by the losing side of the entry CAS and by
// reconciliation. Cancels bypass the breaker: an open breaker must never
// keep us from unwinding a just-placed order.
func (g *Gateway) Cancel(ctx context.Context, brokerOrderID string) error {
	if g.cfg.Shadow {
		slog.Info("shadow cancel", "broker_order_id", brokerOrderID)
		return nil
	}
	actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()
	return g.transport.Cancel(actx, brokerOrderID)
}

// Ping reports broker liveness for health checks.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.transport.Ping(ctx)
}

// BreakerState exposes the breaker state for metrics.
func (g *Gateway) BreakerState() State {
	return g.cb.CurrentState()
}

// Close drains in-flight attempts up to the shutdown grace period.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(g.cfg.ShutdownGrace):
		return fmt.Errorf("gateway close: grace period elapsed with orders in flight")
	}
}

func (g *Gateway) deadLetter(ctx context.Context, o model.Order, err error) error {
	if g.OnOrderFailed != nil {
		g.OnOrderFailed()
	}
	if g.dlq != nil {
		dl := model.DeadLetter{
			Source:   "broker-orders",
			Payload:  orderPayload(o),
			Category: "BROKER_FAILURE",
			Message:  err.Error(),
			At:       time.Now(),
			TraceID:  logger.TraceID(ctx),
		}
		if dlErr := g.dlq.Publish(ctx, dl); dlErr != nil {
			slog.Error("dead-letter publish failed", "err", dlErr)
		}
	}
	return fmt.Errorf("place order %s: %w", o.ClientToken, err)
}

func orderPayload(o model.Order) []byte {
	return []byte(fmt.Sprintf(`{"client_token":%q,"scrip":%q,"side":%q,"type":%q,"qty":%d}`,
		o.ClientToken, o.ScripCode, o.Side, o.Type, o.Qty))
}
