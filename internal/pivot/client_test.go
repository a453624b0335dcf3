package pivot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func pivotServer(t *testing.T, pivot float64, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		resp := map[string]any{
			"levels": map[string]any{
				"daily": map[string]any{
					"pivot":       pivot,
					"supports":    []float64{pivot - 2, pivot - 4},
					"resistances": []float64{pivot + 2, pivot + 4},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestDailyPivot_ReadThrough(t *testing.T) {
	var hits atomic.Int64
	srv := pivotServer(t, 98.0, &hits)
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	p, err := c.DailyPivot(ctx, "N", "49812", 100.0)
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if p != 98.0 {
		t.Errorf("pivot = %f, want 98.0", p)
	}

	// Second lookup must be served from cache
	p, err = c.DailyPivot(ctx, "N", "49812", 101.0)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if p != 98.0 {
		t.Errorf("cached pivot = %f, want 98.0", p)
	}
	if hits.Load() != 1 {
		t.Errorf("remote hits = %d, want 1 (read-through cache)", hits.Load())
	}

	// Different instrument misses the cache
	if _, err := c.DailyPivot(ctx, "N", "2885", 500.0); err != nil {
		t.Fatalf("other instrument: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("remote hits = %d, want 2", hits.Load())
	}
}

func TestDailyPivot_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.DailyPivot(context.Background(), "N", "49812", 100.0); err != ErrUnavailable {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestDailyPivot_MissingDailyLevel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"levels": map[string]any{}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.DailyPivot(context.Background(), "N", "49812", 100.0); err != ErrUnavailable {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
