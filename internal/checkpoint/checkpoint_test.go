package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var stages = []string{"input-check", "prepare-rainfall", "r-factor", "ls-factor", "k-factor", "c-factor", "soil-loss"}

func newFileManager(t *testing.T) (Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, dir
}

func TestFreshRunStartsPending(t *testing.T) {
	m, _ := newFileManager(t)
	ctx := context.Background()

	l := m.Open("runs/out1")
	if err := l.Init(ctx, stages, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	for _, e := range l.Entries() {
		if e.Status != StatusPending {
			t.Errorf("stage %s status = %s, want pending", e.Stage, e.Status)
		}
	}
}

func TestResumeHonorsDoneStages(t *testing.T) {
	m, _ := newFileManager(t)
	ctx := context.Background()

	l := m.Open("runs/out1")
	if err := l.Init(ctx, stages, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := l.MarkDone(ctx, "input-check"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if err := l.MarkDone(ctx, "r-factor"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	// A new process opens the same location
	resumed := m.Open("runs/out1")
	if err := resumed.Init(ctx, stages, true); err != nil {
		t.Fatalf("Init(resume) failed: %v", err)
	}
	if !resumed.StageDone("input-check") || !resumed.StageDone("r-factor") {
		t.Error("resumed ledger should keep completed stages")
	}
	if resumed.StageDone("ls-factor") {
		t.Error("ls-factor should still be pending")
	}

	// Without resume, the ledger is recreated
	fresh := m.Open("runs/out1")
	if err := fresh.Init(ctx, stages, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if fresh.StageDone("input-check") {
		t.Error("non-resume init should reset completed stages")
	}
}

func TestEntriesKeepDeclarationOrder(t *testing.T) {
	m, dir := newFileManager(t)
	ctx := context.Background()

	l := m.Open("out")
	if err := l.Init(ctx, stages, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	// Complete out of order
	for _, s := range []string{"c-factor", "input-check", "ls-factor"} {
		if err := l.MarkDone(ctx, s); err != nil {
			t.Fatalf("MarkDone(%s) failed: %v", s, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "checkpoint_out_"+locationHash("out")+".json"))
	if err != nil {
		t.Fatalf("read checkpoint file: %v", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		t.Fatalf("parse checkpoint file: %v", err)
	}
	if len(cp.Stages) != len(stages) {
		t.Fatalf("persisted %d stages, want %d", len(cp.Stages), len(stages))
	}
	for i, e := range cp.Stages {
		if e.Stage != stages[i] {
			t.Errorf("stage %d = %s, want %s", i, e.Stage, stages[i])
		}
	}
}

func TestMarkDoneUnknownStage(t *testing.T) {
	m, _ := newFileManager(t)
	l := m.Open("out")
	if err := l.Init(context.Background(), stages, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	err := l.MarkDone(context.Background(), "p-factor")
	if !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
}

func TestDuplicateStagesRejected(t *testing.T) {
	l := NewMemoryManager().Open("out")
	err := l.Init(context.Background(), []string{"r-factor", "r-factor"}, false)
	if !errors.Is(err, ErrDuplicateStage) {
		t.Errorf("expected ErrDuplicateStage, got %v", err)
	}
}

func TestConcurrentMarkDone(t *testing.T) {
	m, _ := newFileManager(t)
	ctx := context.Background()
	l := m.Open("parallel")
	if err := l.Init(ctx, stages, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	var wg sync.WaitGroup
	for _, s := range stages {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			if err := l.MarkDone(ctx, s); err != nil {
				t.Errorf("MarkDone(%s) failed: %v", s, err)
			}
		}(s)
	}
	wg.Wait()

	resumed := m.Open("parallel")
	if err := resumed.Init(ctx, stages, true); err != nil {
		t.Fatalf("Init(resume) failed: %v", err)
	}
	for _, s := range stages {
		if !resumed.StageDone(s) {
			t.Errorf("stage %s should be done", s)
		}
	}
}

func TestMemoryManagerResumesWithinProcess(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager()

	l := m.Open("out")
	if err := l.Init(ctx, stages, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := l.MarkDone(ctx, "input-check"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	again := m.Open("out")
	if err := again.Init(ctx, stages, true); err != nil {
		t.Fatalf("Init(resume) failed: %v", err)
	}
	if !again.StageDone("input-check") {
		t.Error("memory ledger should resume within the process")
	}
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"runs/out 1":  "runs_out_1",
		"/abs/path/":  "abs_path",
		"":            "root",
		"plain-name.": "plain-name.",
	}
	for in, want := range tests {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLedgersOfSimilarLocationsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, err := NewManager(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	stages := []string{"input-check", "soil-loss"}

	nested := m.Open("out/periodA")
	if err := nested.Init(ctx, stages, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := nested.MarkDone(ctx, "input-check"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	flat := m.Open("out_periodA")
	if err := flat.Init(ctx, stages, true); err != nil {
		t.Fatalf("Init(resume) failed: %v", err)
	}
	if flat.StageDone("input-check") {
		t.Error("out_periodA must not see the ledger of out/periodA")
	}

	files, err := filepath.Glob(filepath.Join(dir, "checkpoint_out_periodA_*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("want 2 checkpoint files, got %v", files)
	}
}
