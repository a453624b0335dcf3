// cmd/backtest replays recorded signals through the live entry gates and
// exit rules against historical candles, without touching a broker.
//
// Usage:
//
//	go run ./cmd/backtest --signals=signals.jsonl --db=data/trades.db
//	cat signal.json | go run ./cmd/backtest --signals=-
//
// Input is one JSON signal per line, in the same shape the signal stream
// carries.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"trade-enginev1/internal/backtest"
	"trade-enginev1/internal/histdata"
	"trade-enginev1/internal/logger"
	"trade-enginev1/internal/model"
	"trade-enginev1/internal/pivot"
	"trade-enginev1/internal/router"
	sqlitestore "trade-enginev1/internal/store/sqlite"
	"trade-enginev1/internal/trademan"
)

func main() {
	_ = godotenv.Load()
	logger.Init("backtest", slog.LevelWarn)

	signals := flag.String("signals", "-", "Signal file, one JSON per line (- for stdin)")
	dbPath := flag.String("db", "", "SQLite journal to write results to (empty = print only)")
	pivotURL := flag.String("pivot-url", envOr("PIVOT_BASE_URL", "http://localhost:8085"), "Pivot service base URL")
	historyURL := flag.String("history-url", envOr("HISTORY_BASE_URL", "http://localhost:8086"), "History service base URL")
	capital := flag.Float64("capital", 1_000_000, "Deployable capital")
	slippage := flag.Float64("slippage", 5, "Entry slippage in bps (negative disables)")
	flag.Parse()

	in, err := openInput(*signals)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	defer in.Close()

	var repo model.TradeRepository = printRepo{}
	if *dbPath != "" {
		r, err := sqlitestore.Open(sqlitestore.RepositoryConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		defer r.Close()
		repo = teeRepo{r}
	}

	engine := backtest.New(backtest.Config{
		Sizer:            trademan.DefaultSizerConfig(decimal.NewFromFloat(*capital)),
		EntrySlippageBps: *slippage,
	}, histdata.New(histdata.Config{BaseURL: *historyURL}), pivot.New(*pivotURL), repo, nil)

	ctx := context.Background()
	replayed, failed := 0, 0

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		sig, err := router.Parse(line, time.Now())
		if err != nil {
			log.Printf("[backtest] skipping unparseable signal: %v", err)
			failed++
			continue
		}
		if err := router.Validate(sig); err != nil {
			log.Printf("[backtest] skipping invalid signal %s: %v", sig.Key(), err)
			failed++
			continue
		}

		res, err := engine.Replay(ctx, sig)
		if err != nil {
			log.Printf("[backtest] replay %s failed: %v", sig.Key(), err)
			failed++
			continue
		}
		if err := repo.SaveResult(ctx, res); err != nil {
			log.Printf("[backtest] journal %s failed: %v", res.TradeID, err)
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("[backtest] read signals: %v", err)
	}

	fmt.Printf("\nreplayed %d signal(s), %d skipped/failed\n", replayed, failed)
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signals: %w", err)
	}
	return f, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printRepo writes results to stdout instead of a database.
type printRepo struct{}

func (printRepo) SaveResult(_ context.Context, r model.TradeResult) error {
	printResult(r)
	return nil
}

func (printRepo) Close() error { return nil }

// teeRepo journals to SQLite and prints the summary line.
type teeRepo struct {
	*sqlitestore.Repository
}

func (t teeRepo) SaveResult(ctx context.Context, r model.TradeResult) error {
	printResult(r)
	return t.Repository.SaveResult(ctx, r)
}

func printResult(r model.TradeResult) {
	switch r.Status {
	case model.StatusCancelled:
		fmt.Printf("%-10s %-6s CANCELLED (%s)\n", r.Exchange+":"+r.ScripCode, r.Direction, r.ExitReason)
	default:
		fmt.Printf("%-10s %-6s %-13s entry=%.2f exit=%.2f qty=%d pnl=%s (%s)\n",
			r.Exchange+":"+r.ScripCode, r.Direction, r.Status,
			r.EntryPrice, r.ExitPrice, r.PositionSize,
			r.RealizedPnL.StringFixed(2), r.ExitReason)
	}
}
