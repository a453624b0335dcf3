package histdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trade-enginev1/internal/markethours"
)

func TestIntraday1m(t *testing.T) {
	day := time.Date(2026, time.August, 18, 0, 0, 0, 0, markethours.IST)
	open := time.Date(2026, time.August, 18, 9, 15, 0, 0, markethours.IST)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/N:49812/1m" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("date"); got != "2026-08-18" {
			t.Errorf("date = %s", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candles": []map[string]any{
				{"timestamp": open.UnixMilli(), "open": 100.0, "high": 101.0, "low": 99.5, "close": 100.5, "volume": 1200},
				{"timestamp": open.Add(time.Minute).UnixMilli(), "open": 100.5, "high": 102.0, "low": 100.0, "close": 101.5, "volume": 900},
				// Previous session leaks in; must be filtered out.
				{"timestamp": open.AddDate(0, 0, -1).UnixMilli(), "open": 98.0, "high": 99.0, "low": 97.0, "close": 98.5, "volume": 500},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	candles, err := c.Intraday1m(context.Background(), "N", "49812", day)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2 (off-date filtered)", len(candles))
	}
	first := candles[0]
	if !first.Start.Equal(open) || !first.End.Equal(open.Add(time.Minute)) {
		t.Errorf("window = %v..%v", first.Start, first.End)
	}
	if first.Open != 100 || first.Close != 100.5 || first.Volume != 1200 {
		t.Errorf("unexpected candle: %+v", first)
	}
}

func TestIntraday1m_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.Intraday1m(context.Background(), "N", "49812", time.Now()); err == nil {
		t.Error("expected error on 500")
	}
}
