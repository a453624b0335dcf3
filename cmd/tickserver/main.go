// cmd/tickserver — Demo WebSocket tick server.
// Broadcasts simulated tick data for exercising the tick ingest path without
// a live feed. Tick JSON follows the forwardtesting-data wire shape: integer
// Token, LastRate/OpenRate/High/Low, cumulative TotalQuantity, epoch-millis
// tickDt.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_INSTRUMENTS  comma-separated TOKEN@EXCHANGE pairs (default "49812@N")
//	TICK_INTERVAL_MS  broadcast interval milliseconds (default "200")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Token    int64
	Exchange string
	Price    float64
	Open     float64
	High     float64
	Low      float64
	CumVol   int64
}

// feedTick is the broadcast payload, shaped like the production feed.
type feedTick struct {
	Token         int64   `json:"Token"`
	LastRate      float64 `json:"LastRate"`
	OpenRate      float64 `json:"OpenRate"`
	High          float64 `json:"High"`
	Low           float64 `json:"Low"`
	TotalQuantity int64   `json:"TotalQuantity"`
	Exch          string  `json:"Exch"`
	ExchType      string  `json:"ExchType"`
	TickDt        int64   `json:"tickDt"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 1 {
		next = 1
	}
	return next
}

func runGenerator(h *hub, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		for i := range instruments {
			ins := &instruments[i]
			ins.Price = walkPrice(ins.Price)
			if ins.Price > ins.High {
				ins.High = ins.Price
			}
			if ins.Price < ins.Low {
				ins.Low = ins.Price
			}
			ins.CumVol += int64(rand.Intn(500) + 1)

			msg := feedTick{
				Token:         ins.Token,
				LastRate:      ins.Price,
				OpenRate:      ins.Open,
				High:          ins.High,
				Low:           ins.Low,
				TotalQuantity: ins.CumVol,
				Exch:          ins.Exchange,
				ExchType:      "C",
				TickDt:        time.Now().UnixMilli(),
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.broadcast(b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	specs := envOrDefault("TICK_INSTRUMENTS", "49812@N")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 200)

	instruments := parseInstruments(specs)
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_INSTRUMENTS")
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] broadcast interval: %dms", intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, "@", 2)
		if len(seg) != 2 {
			log.Printf("[tickserver] skipping invalid instrument spec: %q", part)
			continue
		}
		token, err := strconv.ParseInt(strings.TrimSpace(seg[0]), 10, 64)
		if err != nil {
			log.Printf("[tickserver] skipping non-numeric token: %q", part)
			continue
		}
		price := 100 + rand.Float64()*900
		result = append(result, instrument{
			Token:    token,
			Exchange: strings.TrimSpace(seg[1]),
			Price:    price,
			Open:     price,
			High:     price,
			Low:      price,
		})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
