package metadata

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

// SQLiteWriter implements Writer on a local SQLite database, for
// single-machine deployments without a PostgreSQL catalog.
type SQLiteWriter struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database at cfg.DSN.
func NewSQLiteWriter(ctx context.Context, cfg CatalogConfig) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.DSN, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("[metadata] opened SQLite catalog %s", cfg.DSN)
	return &SQLiteWriter{db: db}, nil
}

// RecordRun inserts or updates a run entry.
func (w *SQLiteWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var finished any
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.UTC()
	}

	_, err := w.db.ExecContext(ctx, `
		INSERT INTO _meta_runs (run_id, kind, output, params, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id)
		DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, rec.RunID, rec.Kind, rec.Output, rec.Params, rec.Status, nullIfEmpty(rec.Error), rec.StartedAt.UTC(), finished)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordStage appends a stage outcome.
func (w *SQLiteWriter) RecordStage(ctx context.Context, rec StageRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := w.db.ExecContext(ctx, `
		INSERT INTO _meta_stages (run_id, stage, status, duration_ms, valid_cells, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Stage, rec.Status, rec.Duration.Milliseconds(), rec.ValidCells, nullIfEmpty(rec.Error), recordedAt(rec).UTC())
	if err != nil {
		return fmt.Errorf("record stage %s: %w", rec.Stage, err)
	}
	return nil
}

// StageHistory returns a run's stage outcomes, oldest first.
func (w *SQLiteWriter) StageHistory(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT stage, status, duration_ms, valid_cells, COALESCE(error, ''), recorded_at
		FROM _meta_stages
		WHERE run_id = ?
		ORDER BY id
	`, runID)
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

// RunStatus returns the recorded status of a run.
func (w *SQLiteWriter) RunStatus(ctx context.Context, runID string) (string, error) {
	var status string
	err := w.db.QueryRowContext(ctx, `SELECT status FROM _meta_runs WHERE run_id = ?`, runID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("query run %s: %w", runID, err)
	}
	return status, nil
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}
