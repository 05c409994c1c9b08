package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// Config selects how audit events are emitted.
type Config struct {
	Enabled bool
	// Endpoint receives each event as a JSON POST. Events are always kept
	// in the store as well.
	Endpoint string
	Prefix   string
}

// Emitter emits audit events.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter creates an emitter for cfg. Events are chained per output
// and stored in store.
func NewEmitter(cfg Config, store ObjectStore) Emitter {
	if !cfg.Enabled {
		log.Println("[audit] disabled, using no-op emitter")
		return NoopEmitter{}
	}

	stored := NewStoreEmitter(store, cfg.Prefix)
	if cfg.Endpoint != "" {
		log.Printf("[audit] using HTTP emitter -> %s", cfg.Endpoint)
		return NewHTTPEmitter(cfg.Endpoint, stored)
	}
	log.Printf("[audit] storing events under %s", stored.prefix)
	return stored
}

// StoreEmitter writes events into the grid store and advances the chain.
type StoreEmitter struct {
	chain  *ChainTracker
	store  ObjectStore
	prefix string
}

// NewStoreEmitter creates an emitter writing under prefix.
func NewStoreEmitter(store ObjectStore, prefix string) *StoreEmitter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &StoreEmitter{
		chain:  NewChainTracker(store, prefix),
		store:  store,
		prefix: prefix,
	}
}

// Emit links evt to its chain, stores it and moves the chain head.
func (e *StoreEmitter) Emit(ctx context.Context, evt *Event) error {
	if err := e.prepare(ctx, evt); err != nil {
		return err
	}
	if err := e.save(ctx, evt); err != nil {
		return err
	}
	return e.chain.SetHead(ctx, evt)
}

// prepare fills in the event envelope and its chain hashes.
func (e *StoreEmitter) prepare(ctx context.Context, evt *Event) error {
	prev, err := e.chain.GetHead(ctx, evt.ChainKey())
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.Version = EventVersion
	evt.EventType = EventPublished
	evt.EventID = newEventID()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.SetChainHashes(prev)
	return nil
}

func (e *StoreEmitter) save(ctx context.Context, evt *Event) error {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := e.store.WriteObject(ctx, EventKey(e.prefix, evt), data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close releases resources.
func (e *StoreEmitter) Close() error {
	return nil
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, *Event) error { return nil }

func (NoopEmitter) Close() error { return nil }
