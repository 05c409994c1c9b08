package metadata

import (
	"context"
	"fmt"
	"time"
)

// Run statuses recorded in the catalog.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Stage outcomes recorded in the catalog.
const (
	StageCompleted = "completed"
	StageSkipped   = "skipped"
	StageFailed    = "failed"
)

// CatalogConfig configures the run catalog.
type CatalogConfig struct {
	Backend string // "none" | "postgres" | "sqlite"
	DSN     string
	// Strict makes catalog write failures fail the run instead of being
	// logged.
	Strict bool
}

// Writer records pipeline runs and their stages.
type Writer interface {
	// RecordRun inserts or updates a run by RunID.
	RecordRun(ctx context.Context, rec RunRecord) error

	// RecordStage appends a stage outcome.
	RecordStage(ctx context.Context, rec StageRecord) error

	// StageHistory returns the recorded stage outcomes of a run, oldest first.
	StageHistory(ctx context.Context, runID string) ([]StageRecord, error)

	Close() error
}

// RunRecord describes one pipeline run.
type RunRecord struct {
	RunID      string
	Kind       string // "rusle" | "accounts"
	Output     string
	Params     string // YAML document of the run parameters
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// StageRecord describes one stage outcome within a run.
type StageRecord struct {
	RunID      string
	Stage      string
	Status     string
	Duration   time.Duration
	ValidCells int64
	Error      string
	RecordedAt time.Time
}

// NewWriter returns the configured catalog writer.
func NewWriter(ctx context.Context, cfg CatalogConfig) (Writer, error) {
	switch cfg.Backend {
	case "", "none":
		return noopWriter{}, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("DSN required for postgres catalog")
		}
		return NewPostgresWriter(ctx, cfg)
	case "sqlite":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("DSN required for sqlite catalog")
		}
		return NewSQLiteWriter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown catalog backend: %s", cfg.Backend)
	}
}

type noopWriter struct{}

// NewNoopWriter returns a writer that records nothing.
func NewNoopWriter() Writer { return noopWriter{} }

func (noopWriter) RecordRun(context.Context, RunRecord) error     { return nil }
func (noopWriter) RecordStage(context.Context, StageRecord) error { return nil }
func (noopWriter) StageHistory(context.Context, string) ([]StageRecord, error) {
	return nil, nil
}
func (noopWriter) Close() error { return nil }
