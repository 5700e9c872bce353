// Package runs persists completed optimization runs.
package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/mbbfolio/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository stores runs in the optimization_runs table. Queryable summary
// fields live in columns; RunDetails is msgpack-encoded into payload.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a repository over db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// Save inserts run, replacing any existing row with the same ID.
func (r *Repository) Save(ctx context.Context, run *domain.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}

	payload, err := msgpack.Marshal(&run.Details)
	if err != nil {
		return fmt.Errorf("failed to encode run details: %w", err)
	}
	symbols, err := json.Marshal(run.Symbols)
	if err != nil {
		return fmt.Errorf("failed to encode run symbols: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO optimization_runs
			(id, created_at, status, assets, sharpe, initial_sharpe, converged, iterations, duration_ms, error, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.CreatedAt.Unix(),
		string(run.Status),
		string(symbols),
		run.Sharpe,
		run.InitialSharpe,
		run.Converged,
		run.Iterations,
		run.Duration.Milliseconds(),
		nullString(run.Error),
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	r.log.Debug().Str("run_id", run.ID).Str("status", string(run.Status)).Msg("Run saved")
	return nil
}

const selectColumns = `id, created_at, status, assets, sharpe, initial_sharpe, converged, iterations, duration_ms, error, payload`

// GetByID returns the run with id, or domain.ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM optimization_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns up to limit runs, newest first. limit <= 0 means 50.
func (r *Repository) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM optimization_runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes runs created before cutoff and returns how many
// were deleted.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM optimization_runs WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*domain.Run, error) {
	var (
		run           domain.Run
		createdAt     int64
		status        string
		symbols       string
		sharpe        sql.NullFloat64
		initialSharpe sql.NullFloat64
		durationMs    int64
		errText       sql.NullString
		payload       []byte
	)

	err := s.Scan(&run.ID, &createdAt, &status, &symbols, &sharpe, &initialSharpe,
		&run.Converged, &run.Iterations, &durationMs, &errText, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	run.Status = domain.RunStatus(status)
	run.Sharpe = sharpe.Float64
	run.InitialSharpe = initialSharpe.Float64
	run.Duration = time.Duration(durationMs) * time.Millisecond
	run.Error = errText.String

	if err := json.Unmarshal([]byte(symbols), &run.Symbols); err != nil {
		return nil, fmt.Errorf("failed to decode symbols of run %s: %w", run.ID, err)
	}
	if len(payload) > 0 {
		if err := msgpack.Unmarshal(payload, &run.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details of run %s: %w", run.ID, err)
		}
	}

	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
