package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-enginev1/internal/model"
	"trade-enginev1/internal/store/sqlite"
)

type fakeResults struct {
	recent       []model.TradeResult
	byInstrument map[string][]model.TradeResult
	stats        sqlite.Stats
	lastLimit    int
}

func (f *fakeResults) RecentResults(_ context.Context, limit int) ([]model.TradeResult, error) {
	f.lastLimit = limit
	return f.recent, nil
}

func (f *fakeResults) ResultsByInstrument(_ context.Context, exchange, scrip string, limit int) ([]model.TradeResult, error) {
	f.lastLimit = limit
	return f.byInstrument[exchange+":"+scrip], nil
}

func (f *fakeResults) LiveStats(_ context.Context, _ time.Time) (sqlite.Stats, error) {
	return f.stats, nil
}

type fakeEngine struct {
	trade     *model.ActiveTrade
	watchlist int
}

func (f *fakeEngine) ActiveTrade() *model.ActiveTrade { return f.trade }
func (f *fakeEngine) WatchlistSize() int              { return f.watchlist }

func result(id, exchange, scrip string) model.TradeResult {
	return model.TradeResult{
		TradeID:     id,
		ScripCode:   scrip,
		Exchange:    exchange,
		Direction:   model.DirectionLong,
		Status:      model.StatusClosedProfit,
		RealizedPnL: decimal.NewFromInt(100),
	}
}

func TestRecentResults(t *testing.T) {
	src := &fakeResults{recent: []model.TradeResult{result("t1", "N", "49812")}}
	mux := NewRouter(src, &fakeEngine{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/results?limit=5", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if src.lastLimit != 5 {
		t.Errorf("limit = %d, want 5", src.lastLimit)
	}
	var out []model.TradeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].TradeID != "t1" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestResultsByInstrument(t *testing.T) {
	src := &fakeResults{byInstrument: map[string][]model.TradeResult{
		"N:49812": {result("t2", "N", "49812")},
	}}
	mux := NewRouter(src, &fakeEngine{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/results/N:49812", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []model.TradeResult
	json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out) != 1 || out[0].TradeID != "t2" {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/results/badkey", nil))
	if rec.Code != 400 {
		t.Errorf("malformed instrument: status = %d, want 400", rec.Code)
	}
}

func TestStats(t *testing.T) {
	src := &fakeResults{stats: sqlite.Stats{
		Total: 10, Won: 6, Lost: 4,
		TotalPnL: decimal.NewFromFloat(1234.5),
	}}
	mux := NewRouter(src, &fakeEngine{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["win_rate"].(float64) != 0.6 {
		t.Errorf("win_rate = %v", out["win_rate"])
	}
	if out["total_pnl"] != "1234.50" {
		t.Errorf("total_pnl = %v", out["total_pnl"])
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats?since=notatime", nil))
	if rec.Code != 400 {
		t.Errorf("bad since: status = %d, want 400", rec.Code)
	}
}

func TestPosition(t *testing.T) {
	mux := NewRouter(&fakeResults{}, &fakeEngine{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/position", nil))
	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["active"] != false {
		t.Errorf("flat engine: %s", rec.Body.String())
	}

	eng := &fakeEngine{trade: &model.ActiveTrade{
		TradeID: "t3",
		Signal: model.Signal{
			ScripCode: "49812", Exchange: "N", Direction: model.DirectionLong,
		},
		EntryPrice:   100.5,
		PositionSize: 2000,
		Target1Hit:   true,
		Status:       model.StatusPartialExit,
	}}
	mux = NewRouter(&fakeResults{}, eng)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/position", nil))
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["active"] != true || out["trade_id"] != "t3" {
		t.Errorf("body = %s", rec.Body.String())
	}
	if out["remaining_qty"].(float64) != 1000 {
		t.Errorf("remaining_qty = %v", out["remaining_qty"])
	}
}

func TestWatchlist(t *testing.T) {
	mux := NewRouter(&fakeResults{}, &fakeEngine{watchlist: 3})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/watchlist", nil))
	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["size"].(float64) != 3 {
		t.Errorf("size = %v", out["size"])
	}
}
