package metadata

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	cfg  CatalogConfig
}

// NewPostgresWriter creates a new PostgreSQL catalog writer.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Configure connection pool
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{pool: pool, cfg: cfg}

	// Initialize schema
	if err := w.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Println("[metadata] connected to PostgreSQL catalog")
	return w, nil
}

// initSchema creates the _meta_* tables if they don't exist.
func (w *PostgresWriter) initSchema(ctx context.Context) error {
	_, err := w.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// RecordRun inserts or updates a run entry.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO _meta_runs (run_id, kind, output, params, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.Kind,
		rec.Output,
		rec.Params,
		rec.Status,
		nullIfEmpty(rec.Error),
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordStage appends a stage outcome.
func (w *PostgresWriter) RecordStage(ctx context.Context, rec StageRecord) error {
	query := `
		INSERT INTO _meta_stages (run_id, stage, status, duration_ms, valid_cells, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.Stage,
		rec.Status,
		rec.Duration.Milliseconds(),
		rec.ValidCells,
		nullIfEmpty(rec.Error),
		recordedAt(rec),
	)
	if err != nil {
		return fmt.Errorf("record stage %s: %w", rec.Stage, err)
	}

	log.Printf("[metadata] recorded stage %s (%s) for run %s", rec.Stage, rec.Status, rec.RunID)
	return nil
}

// StageHistory returns a run's stage outcomes, oldest first.
func (w *PostgresWriter) StageHistory(ctx context.Context, runID string) ([]StageRecord, error) {
	query := `
		SELECT stage, status, duration_ms, valid_cells, COALESCE(error, ''), recorded_at
		FROM _meta_stages
		WHERE run_id = $1
		ORDER BY id
	`

	rows, err := w.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		rec := StageRecord{RunID: runID}
		var durationMS int64
		if err := rows.Scan(&rec.Stage, &rec.Status, &durationMS, &rec.ValidCells, &rec.Error, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func recordedAt(rec StageRecord) time.Time {
	if rec.RecordedAt.IsZero() {
		return time.Now().UTC()
	}
	return rec.RecordedAt
}
