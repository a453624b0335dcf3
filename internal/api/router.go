// Package api exposes the engine's read-only query surface: recent trade
// results, per-instrument history, aggregate stats and the live position.
// Mutating the engine over HTTP is deliberately not offered.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trade-enginev1/internal/model"
	"trade-enginev1/internal/store/sqlite"
)

// ResultSource is the journal query surface the API reads from.
type ResultSource interface {
	RecentResults(ctx context.Context, limit int) ([]model.TradeResult, error)
	ResultsByInstrument(ctx context.Context, exchange, scrip string, limit int) ([]model.TradeResult, error)
	LiveStats(ctx context.Context, since time.Time) (sqlite.Stats, error)
}

// EngineState is the live view of the trading loop.
type EngineState interface {
	ActiveTrade() *model.ActiveTrade
	WatchlistSize() int
}

const defaultLimit = 50

// NewRouter builds the HTTP query API.
func NewRouter(results ResultSource, engine EngineState) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/results", func(w http.ResponseWriter, r *http.Request) {
		out, err := results.RecentResults(r.Context(), limitParam(r))
		respond(w, out, err)
	})

	// /api/v1/results/{exchange}:{scrip}
	mux.HandleFunc("/api/v1/results/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/api/v1/results/")
		exchange, scrip, ok := strings.Cut(key, ":")
		if !ok || exchange == "" || scrip == "" {
			http.Error(w, `{"error":"instrument must be exchange:scrip"}`, http.StatusBadRequest)
			return
		}
		out, err := results.ResultsByInstrument(r.Context(), exchange, scrip, limitParam(r))
		respond(w, out, err)
	})

	mux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		since := time.Now().AddDate(0, 0, -1)
		if v := r.URL.Query().Get("since"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, `{"error":"since must be RFC3339"}`, http.StatusBadRequest)
				return
			}
			since = t
		}
		s, err := results.LiveStats(r.Context(), since)
		if err != nil {
			respond(w, nil, err)
			return
		}
		winRate := 0.0
		if closed := s.Won + s.Lost; closed > 0 {
			winRate = float64(s.Won) / float64(closed)
		}
		respond(w, map[string]any{
			"total":     s.Total,
			"won":       s.Won,
			"lost":      s.Lost,
			"win_rate":  winRate,
			"total_pnl": s.TotalPnL.StringFixed(2),
			"since":     since.Format(time.RFC3339),
		}, nil)
	})

	mux.HandleFunc("/api/v1/position", func(w http.ResponseWriter, r *http.Request) {
		t := engine.ActiveTrade()
		if t == nil {
			respond(w, map[string]any{"active": false}, nil)
			return
		}
		respond(w, map[string]any{
			"active":        true,
			"trade_id":      t.TradeID,
			"instrument":    t.Key(),
			"direction":     t.Direction(),
			"status":        t.Status,
			"entry_price":   t.EntryPrice,
			"entry_time":    t.EntryTime,
			"position_size": t.PositionSize,
			"remaining_qty": t.RemainingQty(),
			"stop_loss":     t.StopLoss,
			"targets":       t.Targets,
			"target1_hit":   t.Target1Hit,
		}, nil)
	})

	mux.HandleFunc("/api/v1/watchlist", func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"size": engine.WatchlistSize()}, nil)
	})

	return mux
}

func limitParam(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return defaultLimit
	}
	return n
}

func respond(w http.ResponseWriter, v any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		slog.Error("api query failed", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "query failed"})
		return
	}
	if v == nil {
		v = []any{}
	}
	json.NewEncoder(w).Encode(v)
}
