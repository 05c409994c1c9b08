package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/storage"
)

// DefaultPrefix is the store prefix audit events are written under.
const DefaultPrefix = "_audit"

// ErrNoChainHead indicates no previous event exists for a chain.
var ErrNoChainHead = errors.New("no chain head found")

// ObjectStore is the subset of a grid store audit records are kept in.
type ObjectStore interface {
	ReadObject(ctx context.Context, key string) ([]byte, error)
	WriteObject(ctx context.Context, key string, data []byte) error
}

type chainHead struct {
	EventID   string `json:"event_id"`
	EventHash string `json:"event_hash"`
}

// ChainTracker keeps the head of each chain in the store, one object per
// chain.
type ChainTracker struct {
	mu     sync.Mutex
	store  ObjectStore
	prefix string
	heads  map[string]chainHead
}

// NewChainTracker creates a tracker persisting under prefix.
func NewChainTracker(store ObjectStore, prefix string) *ChainTracker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &ChainTracker{
		store:  store,
		prefix: prefix,
		heads:  make(map[string]chainHead),
	}
}

// GetHead returns the last event hash for a chain.
func (ct *ChainTracker) GetHead(ctx context.Context, chainKey string) (string, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if h, ok := ct.heads[chainKey]; ok {
		return h.EventHash, nil
	}

	data, err := ct.store.ReadObject(ctx, ct.headKey(chainKey))
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoChainHead
	}
	if err != nil {
		return "", fmt.Errorf("read chain head: %w", err)
	}
	var h chainHead
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("parse chain head: %w", err)
	}
	if h.EventHash == "" {
		return "", ErrNoChainHead
	}
	ct.heads[chainKey] = h
	return h.EventHash, nil
}

// SetHead moves a chain's head to evt.
func (ct *ChainTracker) SetHead(ctx context.Context, evt *Event) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	h := chainHead{EventID: evt.EventID, EventHash: evt.Chain.EventHash}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	chainKey := evt.ChainKey()
	if err := ct.store.WriteObject(ctx, ct.headKey(chainKey), data); err != nil {
		return fmt.Errorf("write chain head: %w", err)
	}
	ct.heads[chainKey] = h
	return nil
}

func (ct *ChainTracker) headKey(chainKey string) string {
	return path.Join(ct.prefix, chainKey, "chain-head.json")
}

// EventKey returns where an event is stored.
func EventKey(prefix string, evt *Event) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return path.Join(prefix, evt.ChainKey(), evt.EventID+".json")
}
