// Package audit emits hash-chained provenance events for published soil
// loss outputs.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/metadata"
)

// Event schema identifiers.
const (
	EventVersion   = "1.0"
	EventPublished = "outputs_published"
)

// Event records the grids one run published.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo               `json:"run"`
	Grids    map[string]GridInfo   `json:"grids"`
	Producer metadata.ProducerInfo `json:"producer"`
	Chain    ChainInfo             `json:"chain"`
}

// RunInfo identifies the run that published the outputs.
type RunInfo struct {
	RunID         string `json:"run_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Kind          string `json:"kind"`
	Output        string `json:"output"`
	ParamsHash    string `json:"params_hash"`
}

// GridInfo describes one published grid.
type GridInfo struct {
	Key        string `json:"key"`
	Checksum   string `json:"checksum"`
	ValidCells int    `json:"valid_cells"`
}

// ChainInfo links an event to the previous event of the same output.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain an event belongs to. Each output location has
// its own chain.
func (e *Event) ChainKey() string {
	return e.Run.Output
}

// SetChainHashes links the event to prev and computes its own hash.
func (e *Event) SetChainHashes(prev string) {
	e.Chain.PrevEventHash = prev
	e.Chain.EventHash = ComputeEventHash(e)
}

// ComputeEventHash hashes the canonical JSON of an event with its
// event_hash cleared.
func ComputeEventHash(evt *Event) string {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// HashParams returns the checksum of a run's persisted parameter document.
func HashParams(doc string) string {
	hash := sha256.Sum256([]byte(doc))
	return "sha256:" + hex.EncodeToString(hash[:])
}

func newEventID() string {
	return "audit_evt_" + uuid.NewString()
}
