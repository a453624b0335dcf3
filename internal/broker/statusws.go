package broker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// OrderStatus is one update from the broker's order-status stream, used to
// reconcile our view of placed orders with the broker's.
type OrderStatus struct {
	BrokerOrderID string    `json:"broker_order_id"`
	ClientToken   string    `json:"client_token"`
	Status        string    `json:"status"` // PLACED, FILLED, CANCELLED, REJECTED
	FillPrice     float64   `json:"fill_price,omitempty"`
	FilledQty     int64     `json:"filled_qty,omitempty"`
	At            time.Time `json:"at"`
}

// StatusStream consumes the broker's order-status websocket and forwards
// updates to a channel. Reconnects with backoff until ctx is cancelled.
type StatusStream struct {
	url       string
	authToken string
	dialer    *websocket.Dialer

	// OnReconnect is called on each reconnection attempt (for metrics).
	OnReconnect func()
}

// NewStatusStream creates a status stream client for the given ws URL.
func NewStatusStream(url, authToken string) *StatusStream {
	return &StatusStream{
		url:       url,
		authToken: authToken,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run connects and pumps status updates into out until ctx is cancelled.
// Connection drops trigger reconnects with capped exponential backoff.
func (s *StatusStream) Run(ctx context.Context, out chan<- OrderStatus) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			log.Printf("[statusws] dial failed: %v (retry in %v)", err, backoff)
			if s.OnReconnect != nil {
				s.OnReconnect()
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if s.authToken != "" {
			_ = conn.WriteJSON(map[string]string{"action": "auth", "token": s.authToken})
		}

		s.pump(ctx, conn, out)
		conn.Close()
	}
}

func (s *StatusStream) pump(ctx context.Context, conn *websocket.Conn, out chan<- OrderStatus) {
	// Reader unblocks via deadline so ctx cancellation is honoured
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[statusws] read error: %v", err)
			return
		}

		var st OrderStatus
		if err := json.Unmarshal(data, &st); err != nil {
			log.Printf("[statusws] bad status payload: %v", err)
			continue
		}
		select {
		case out <- st:
		case <-ctx.Done():
			return
		}
	}
}
