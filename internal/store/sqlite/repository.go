// Package sqlite persists terminal trade records and the open-position
// snapshot. The journal is the audit trail behind the results stream: the
// stream is transport, this is what survives.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"trade-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// RepositoryConfig configures the SQLite journal.
type RepositoryConfig struct {
	DBPath    string        // e.g. "data/trades.db"
	Retention time.Duration // purge horizon for terminal records, default 90 days
}

// Repository is a single-writer SQLite store for trade results and the
// crash-recovery position snapshot.
type Repository struct {
	db        *sql.DB
	retention time.Duration
}

// Open opens (creating if needed) the journal in WAL mode.
func Open(cfg RepositoryConfig) (*Repository, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	slog.Info("sqlite journal opened", "path", cfg.DBPath)
	return &Repository{db: db, retention: retention}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trade_results (
			trade_id      TEXT PRIMARY KEY,
			signal_key    TEXT NOT NULL,
			instrument    TEXT NOT NULL,
			scrip_code    TEXT NOT NULL,
			exchange      TEXT NOT NULL,
			direction     TEXT NOT NULL,
			status        TEXT NOT NULL,
			entry_price   REAL,
			entry_time    INTEGER,
			exit_price    REAL,
			exit_time     INTEGER,
			position_size INTEGER,
			realized_pnl  TEXT NOT NULL,
			exit_reason   TEXT,
			partials      TEXT,
			backtest      INTEGER NOT NULL DEFAULT 0,
			trace_id      TEXT,
			created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE INDEX IF NOT EXISTS idx_results_instrument_entry
			ON trade_results (instrument, entry_time DESC);
		CREATE INDEX IF NOT EXISTS idx_results_status_created
			ON trade_results (status, created_at DESC);

		CREATE TABLE IF NOT EXISTS open_positions (
			trade_id   TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

// SaveResult journals a terminal trade record. Idempotent on trade_id, so
// an at-least-once redelivery of the terminal event rewrites the same row.
// Realized P&L is stored as a decimal string, never a float column.
func (r *Repository) SaveResult(ctx context.Context, res model.TradeResult) error {
	partials, err := json.Marshal(res.Partials)
	if err != nil {
		return fmt.Errorf("marshal partials: %w", err)
	}
	backtest := 0
	if res.Backtest {
		backtest = 1
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trade_results
			(trade_id, signal_key, instrument, scrip_code, exchange, direction, status,
			 entry_price, entry_time, exit_price, exit_time, position_size,
			 realized_pnl, exit_reason, partials, backtest, trace_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.TradeID, res.SignalKey, res.Exchange+":"+res.ScripCode, res.ScripCode,
		res.Exchange, string(res.Direction), string(res.Status),
		res.EntryPrice, res.EntryTime.Unix(), res.ExitPrice, res.ExitTime.Unix(),
		res.PositionSize, res.RealizedPnL.String(), res.ExitReason,
		string(partials), backtest, res.TraceID,
	)
	if err != nil {
		return fmt.Errorf("insert trade result %s: %w", res.TradeID, err)
	}
	return nil
}

// ResultsByInstrument returns the most recent terminal records for an
// instrument, newest first.
func (r *Repository) ResultsByInstrument(ctx context.Context, exchange, scrip string, limit int) ([]model.TradeResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT trade_id, signal_key, scrip_code, exchange, direction, status,
		       entry_price, entry_time, exit_price, exit_time, position_size,
		       realized_pnl, exit_reason, partials, backtest, trace_id
		FROM trade_results
		WHERE instrument = ?
		ORDER BY entry_time DESC
		LIMIT ?
	`, exchange+":"+scrip, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// RecentResults returns the newest terminal records across all instruments.
func (r *Repository) RecentResults(ctx context.Context, limit int) ([]model.TradeResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT trade_id, signal_key, scrip_code, exchange, direction, status,
		       entry_price, entry_time, exit_price, exit_time, position_size,
		       realized_pnl, exit_reason, partials, backtest, trace_id
		FROM trade_results
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent results: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]model.TradeResult, error) {
	var out []model.TradeResult
	for rows.Next() {
		var (
			res                  model.TradeResult
			direction, status    string
			entryTS, exitTS      int64
			pnlStr, partialsJSON string
			backtest             int
		)
		if err := rows.Scan(&res.TradeID, &res.SignalKey, &res.ScripCode, &res.Exchange,
			&direction, &status, &res.EntryPrice, &entryTS, &res.ExitPrice, &exitTS,
			&res.PositionSize, &pnlStr, &res.ExitReason, &partialsJSON, &backtest,
			&res.TraceID); err != nil {
			return nil, fmt.Errorf("scan trade result: %w", err)
		}
		res.Direction = model.Direction(direction)
		res.Status = model.TradeStatus(status)
		res.EntryTime = time.Unix(entryTS, 0).UTC()
		res.ExitTime = time.Unix(exitTS, 0).UTC()
		res.Backtest = backtest != 0
		pnl, err := decimal.NewFromString(pnlStr)
		if err != nil {
			return nil, fmt.Errorf("parse pnl %q: %w", pnlStr, err)
		}
		res.RealizedPnL = pnl
		if partialsJSON != "" {
			if err := json.Unmarshal([]byte(partialsJSON), &res.Partials); err != nil {
				return nil, fmt.Errorf("parse partials: %w", err)
			}
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Stats summarizes live (non-backtest) terminal trades for the day-to-day
// dashboard: counts, win rate and total realized P&L.
type Stats struct {
	Total    int
	Won      int
	Lost     int
	TotalPnL decimal.Decimal
}

// LiveStats aggregates live terminal records since the given time.
func (r *Repository) LiveStats(ctx context.Context, since time.Time) (Stats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, realized_pnl FROM trade_results
		WHERE backtest = 0 AND created_at >= ?
	`, since.Unix())
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	s := Stats{TotalPnL: decimal.Zero}
	for rows.Next() {
		var status, pnlStr string
		if err := rows.Scan(&status, &pnlStr); err != nil {
			return Stats{}, err
		}
		pnl, err := decimal.NewFromString(pnlStr)
		if err != nil {
			return Stats{}, fmt.Errorf("parse pnl %q: %w", pnlStr, err)
		}
		s.Total++
		s.TotalPnL = s.TotalPnL.Add(pnl)
		switch model.TradeStatus(status) {
		case model.StatusClosedProfit:
			s.Won++
		case model.StatusClosedLoss, model.StatusFailed:
			s.Lost++
		}
	}
	return s, rows.Err()
}

// storedPosition is the persistable shape of an ActiveTrade. Metadata is
// reduced to the flags that matter across a restart.
type storedPosition struct {
	TradeID       string             `json:"trade_id"`
	Signal        model.Signal       `json:"signal"`
	EntryPrice    float64            `json:"entry_price"`
	EntryTime     time.Time          `json:"entry_time"`
	PositionSize  int64              `json:"position_size"`
	StopLoss      float64            `json:"stop_loss"`
	Targets       [4]float64         `json:"targets"`
	HighSince     float64            `json:"high_since"`
	LowSince      float64            `json:"low_since"`
	Target1Hit    bool               `json:"target1_hit"`
	Partials      []model.PartialFill `json:"partials,omitempty"`
	BrokerOrderID string             `json:"broker_order_id"`
	Status        model.TradeStatus  `json:"status"`
}

// SavePosition snapshots the open position after every state change so a
// crash mid-trade can resume supervision.
func (r *Repository) SavePosition(ctx context.Context, t *model.ActiveTrade) error {
	data, err := json.Marshal(storedPosition{
		TradeID: t.TradeID, Signal: t.Signal, EntryPrice: t.EntryPrice,
		EntryTime: t.EntryTime, PositionSize: t.PositionSize, StopLoss: t.StopLoss,
		Targets: t.Targets, HighSince: t.HighSince, LowSince: t.LowSince,
		Target1Hit: t.Target1Hit, Partials: t.Partials,
		BrokerOrderID: t.BrokerOrderID, Status: t.Status,
	})
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO open_positions (trade_id, data, updated_at)
		VALUES (?, ?, ?)
	`, t.TradeID, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save position %s: %w", t.TradeID, err)
	}
	return nil
}

// ClearPosition removes the snapshot once the trade is terminal.
func (r *Repository) ClearPosition(ctx context.Context, tradeID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM open_positions WHERE trade_id = ?`, tradeID)
	return err
}

// LoadPosition returns the persisted open position, or nil when flat.
func (r *Repository) LoadPosition(ctx context.Context) (*model.ActiveTrade, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM open_positions ORDER BY updated_at DESC LIMIT 1
	`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	var sp storedPosition
	if err := json.Unmarshal([]byte(data), &sp); err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	return &model.ActiveTrade{
		TradeID: sp.TradeID, Signal: sp.Signal, EntryPrice: sp.EntryPrice,
		EntryTime: sp.EntryTime, PositionSize: sp.PositionSize, StopLoss: sp.StopLoss,
		Targets: sp.Targets, HighSince: sp.HighSince, LowSince: sp.LowSince,
		Target1Hit: sp.Target1Hit, Partials: sp.Partials,
		BrokerOrderID: sp.BrokerOrderID, Status: sp.Status,
		Meta: model.NewMeta(),
	}, nil
}

// RunPurge deletes terminal records older than the retention horizon, once
// a day until ctx is cancelled.
func (r *Repository) RunPurge(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	purge := func() {
		cutoff := time.Now().Add(-r.retention).Unix()
		res, err := r.db.ExecContext(ctx, `DELETE FROM trade_results WHERE created_at < ?`, cutoff)
		if err != nil {
			slog.Error("journal purge failed", "err", err)
			return
		}
		if n, _ := res.RowsAffected(); n > 0 {
			slog.Info("purged aged trade records", "count", n)
		}
	}

	purge()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

// DB exposes the underlying handle for health probes.
func (r *Repository) DB() *sql.DB { return r.db }

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}
