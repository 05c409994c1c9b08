// Package checkpoint records per-stage completion of pipeline runs so an
// interrupted run can resume without recomputing finished stages.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")

	// ErrUnknownStage is returned when marking a stage that was not declared.
	ErrUnknownStage = errors.New("stage not declared")

	// ErrDuplicateStage is returned when a stage is declared twice.
	ErrDuplicateStage = errors.New("stage declared twice")
)

// Status is the persisted state of a stage.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Entry is one stage in the ledger.
type Entry struct {
	Stage       string     `json:"stage"`
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Checkpoint is the persisted ledger of one run, keyed by output location.
type Checkpoint struct {
	Location  string    `json:"location"`
	Stages    []Entry   `json:"stages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger tracks stage completion for one run.
type Ledger interface {
	// Init declares the run's stages in order. With resume=false all stages
	// start pending; with resume=true previously completed stages stay done.
	Init(ctx context.Context, stages []string, resume bool) error

	// StageDone reports whether a stage has completed.
	StageDone(stage string) bool

	// MarkDone records a stage as complete and persists the ledger.
	MarkDone(ctx context.Context, stage string) error

	// Entries returns the stages in declaration order.
	Entries() []Entry
}

// Manager opens per-run ledgers.
type Manager interface {
	Open(location string) Ledger
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return NewMemoryManager(), nil
	}

	// Ensure checkpoint directory exists
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists ledgers to local files.
type fileManager struct {
	dir string
}

// Open returns the ledger for a run output location.
func (m *fileManager) Open(location string) Ledger {
	return &ledger{location: location, path: m.checkpointPath(location)}
}

// checkpointPath returns the path to the checkpoint file for a location.
// The readable name is suffixed with a hash of the raw location, since
// different locations can sanitize to the same name.
func (m *fileManager) checkpointPath(location string) string {
	filename := fmt.Sprintf("checkpoint_%s_%s.json", sanitize(location), locationHash(location))
	return filepath.Join(m.dir, filename)
}

func locationHash(location string) string {
	sum := sha256.Sum256([]byte(location))
	return hex.EncodeToString(sum[:4])
}

func sanitize(location string) string {
	var b strings.Builder
	for _, r := range strings.Trim(location, "/") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "root"
	}
	return b.String()
}

// memoryManager keeps ledgers in memory for when checkpointing is disabled.
// Runs still track stages and can resume within the process, but nothing
// survives it.
type memoryManager struct {
	mu      sync.Mutex
	ledgers map[string]*ledger
}

// NewMemoryManager returns a manager whose ledgers live in memory.
func NewMemoryManager() Manager {
	return &memoryManager{ledgers: make(map[string]*ledger)}
}

func (m *memoryManager) Open(location string) Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.ledgers[location]; ok {
		return l
	}
	l := &ledger{location: location}
	m.ledgers[location] = l
	return l
}

// ledger is the shared implementation. An empty path disables persistence.
type ledger struct {
	location string
	path     string

	mu      sync.Mutex
	entries []Entry
	index   map[string]int
}

func (l *ledger) Init(ctx context.Context, stages []string, resume bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var previous map[string]Entry
	if resume {
		cp, err := l.load()
		switch {
		case errors.Is(err, ErrNoCheckpoint):
		case err != nil:
			return err
		default:
			previous = make(map[string]Entry, len(cp.Stages))
			for _, e := range cp.Stages {
				previous[e.Stage] = e
			}
		}
	}

	l.entries = make([]Entry, 0, len(stages))
	l.index = make(map[string]int, len(stages))
	for _, s := range stages {
		if _, dup := l.index[s]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, s)
		}
		e := Entry{Stage: s, Status: StatusPending}
		if p, ok := previous[s]; ok && p.Status == StatusDone {
			e = p
		}
		l.index[s] = len(l.entries)
		l.entries = append(l.entries, e)
	}
	return l.save()
}

func (l *ledger) StageDone(stage string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[stage]
	return ok && l.entries[i].Status == StatusDone
}

func (l *ledger) MarkDone(ctx context.Context, stage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[stage]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	now := time.Now().UTC()
	l.entries[i].Status = StatusDone
	l.entries[i].CompletedAt = &now
	return l.save()
}

func (l *ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// load reads the checkpoint from file. Callers hold mu.
func (l *ledger) load() (*Checkpoint, error) {
	if l.path == "" {
		if l.entries == nil {
			return nil, ErrNoCheckpoint
		}
		return &Checkpoint{Location: l.location, Stages: l.entries}, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}
	return &cp, nil
}

// save persists the ledger to file. Callers hold mu.
func (l *ledger) save() error {
	if l.path == "" {
		return nil
	}

	cp := Checkpoint{Location: l.location, Stages: l.entries, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := l.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}
