// Package history stores the daily closing prices the pipeline resamples.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver (cgo), selectable via database.DriverCGO
	"github.com/rs/zerolog"
)

// HistoryDB provides access to historical price data
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// DailyPrice is one closing price.
type DailyPrice struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

const dateLayout = "2006-01-02"

// GetClosingPrices returns up to limit of the most recent closes for symbol in
// chronological order. limit <= 0 returns the full history.
func (h *HistoryDB) GetClosingPrices(ctx context.Context, symbol string, limit int) ([]float64, error) {
	prices, err := h.GetDailyPrices(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}

	closes := make([]float64, len(prices))
	for i, p := range prices {
		closes[i] = p.Close
	}
	return closes, nil
}

// GetDailyPrices returns up to limit of the most recent prices for symbol,
// oldest first.
func (h *HistoryDB) GetDailyPrices(ctx context.Context, symbol string, limit int) ([]DailyPrice, error) {
	query := `
		SELECT date, close
		FROM daily_prices
		WHERE symbol = ?
		ORDER BY date DESC
	`
	args := []interface{}{symbol}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var dateUnix int64
		if err := rows.Scan(&dateUnix, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		p.Date = time.Unix(dateUnix, 0).UTC().Format(dateLayout)
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	// Query is newest first so LIMIT keeps the latest rows
	for i, j := 0, len(prices)-1; i < j; i, j = i+1, j-1 {
		prices[i], prices[j] = prices[j], prices[i]
	}

	return prices, nil
}

// UpsertPrices inserts or replaces prices for symbol in a single transaction.
func (h *HistoryDB) UpsertPrices(ctx context.Context, symbol string, prices []DailyPrice) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	type row struct {
		date  int64
		close float64
	}
	rowsToWrite := make([]row, 0, len(prices))
	for _, p := range prices {
		t, err := time.Parse(dateLayout, p.Date)
		if err != nil {
			return fmt.Errorf("invalid date %q for %s: %w", p.Date, symbol, err)
		}
		if !(p.Close > 0) {
			return fmt.Errorf("invalid close %v for %s on %s", p.Close, symbol, p.Date)
		}
		rowsToWrite = append(rowsToWrite, row{date: t.Unix(), close: p.Close})
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_prices (symbol, date, close) VALUES (?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET close = excluded.close
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rowsToWrite {
		if _, err := stmt.ExecContext(ctx, symbol, r.date, r.close); err != nil {
			return fmt.Errorf("failed to upsert price for %s: %w", symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prices for %s: %w", symbol, err)
	}

	h.log.Debug().Str("symbol", symbol).Int("count", len(rowsToWrite)).Msg("Upserted daily prices")
	return nil
}

// ListSymbols returns every symbol with at least one price, sorted.
func (h *HistoryDB) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM daily_prices ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}
