package metadata

import (
	"encoding/json"
	"time"
)

// ManifestName is the file written beside a run's outputs.
const ManifestName = "_manifest.json"

// Manifest lists the grids a run published.
type Manifest struct {
	RunID     string                 `json:"run_id"`
	Kind      string                 `json:"kind"`
	Output    string                 `json:"output"`
	Grids     map[string]GridSummary `json:"grids"`
	Producer  ProducerInfo           `json:"producer"`
	CreatedAt time.Time              `json:"created_at"`
}

// GridSummary describes one published grid.
type GridSummary struct {
	Key        string  `json:"key"`
	URI        string  `json:"uri"`
	ValidCells int     `json:"valid_cells"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Mean       float64 `json:"mean"`
}

// ProducerInfo describes the software that produced the outputs.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// NewManifest starts a manifest for a run.
func NewManifest(runID, kind, output string, producer ProducerInfo) *Manifest {
	return &Manifest{
		RunID:     runID,
		Kind:      kind,
		Output:    output,
		Grids:     make(map[string]GridSummary),
		Producer:  producer,
		CreatedAt: time.Now().UTC(),
	}
}

// Add records a published grid.
func (m *Manifest) Add(name string, g GridSummary) {
	m.Grids[name] = g
}

// JSON returns the manifest as indented JSON bytes.
func (m *Manifest) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
