package metadata

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteWriterRecordsRunAndStages(t *testing.T) {
	ctx := context.Background()
	w, err := NewSQLiteWriter(ctx, CatalogConfig{Backend: "sqlite", DSN: filepath.Join(t.TempDir(), "catalog.db")})
	if err != nil {
		t.Fatalf("NewSQLiteWriter failed: %v", err)
	}
	defer w.Close()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := RunRecord{
		RunID:     "run-1",
		Kind:      "rusle",
		Output:    "runs/out1",
		Params:    "output: runs/out1\n",
		Status:    RunRunning,
		StartedAt: started,
	}
	if err := w.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	for _, st := range []StageRecord{
		{RunID: "run-1", Stage: "input-check", Status: StageCompleted, Duration: 120 * time.Millisecond},
		{RunID: "run-1", Stage: "r-factor", Status: StageSkipped},
		{RunID: "run-1", Stage: "ls-factor", Status: StageFailed, Error: "boom"},
	} {
		if err := w.RecordStage(ctx, st); err != nil {
			t.Fatalf("RecordStage(%s) failed: %v", st.Stage, err)
		}
	}

	finished := started.Add(time.Minute)
	run.Status = RunFailed
	run.Error = "ls-factor: boom"
	run.FinishedAt = &finished
	if err := w.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun update failed: %v", err)
	}

	status, err := w.RunStatus(ctx, "run-1")
	if err != nil {
		t.Fatalf("RunStatus failed: %v", err)
	}
	if status != RunFailed {
		t.Errorf("run status = %s, want %s", status, RunFailed)
	}

	history, err := w.StageHistory(ctx, "run-1")
	if err != nil {
		t.Fatalf("StageHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history has %d entries, want 3", len(history))
	}
	if history[0].Stage != "input-check" || history[0].Duration != 120*time.Millisecond {
		t.Errorf("unexpected first entry: %+v", history[0])
	}
	if history[2].Status != StageFailed || history[2].Error != "boom" {
		t.Errorf("unexpected last entry: %+v", history[2])
	}
}

func TestNewWriterBackends(t *testing.T) {
	ctx := context.Background()

	w, err := NewWriter(ctx, CatalogConfig{Backend: "none"})
	if err != nil {
		t.Fatalf("NewWriter(none) failed: %v", err)
	}
	if err := w.RecordStage(ctx, StageRecord{RunID: "x"}); err != nil {
		t.Errorf("noop RecordStage failed: %v", err)
	}

	if _, err := NewWriter(ctx, CatalogConfig{Backend: "postgres"}); err == nil {
		t.Error("expected error for postgres without DSN")
	}
	if _, err := NewWriter(ctx, CatalogConfig{Backend: "mysql", DSN: "x"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestManifestJSON(t *testing.T) {
	m := NewManifest("run-1", "accounts", "runs/acc", ProducerInfo{Name: "soil-loss", Version: "test"})
	m.Add("soillossDiff", GridSummary{Key: "runs/acc/soillossDiff", ValidCells: 4, Min: -1, Max: 2, Mean: 0.5})

	data, err := m.JSON()
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	var back Manifest
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	g := back.Grids["soillossDiff"]
	if g.ValidCells != 4 || math.Abs(g.Mean-0.5) > 1e-12 {
		t.Errorf("unexpected grid summary: %+v", g)
	}
}
