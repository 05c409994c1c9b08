package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/metadata"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/storage"
)

type mapStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{objects: make(map[string][]byte)}
}

func (s *mapStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return data, nil
}

func (s *mapStore) WriteObject(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *mapStore) keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func testEvent(output string) *Event {
	return &Event{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Run: RunInfo{
			RunID:      "run-1",
			Kind:       "rusle",
			Output:     output,
			ParamsHash: HashParams("ls_option: SlopeLength\n"),
		},
		Grids: map[string]GridInfo{
			"soilloss": {Key: output + "/soilloss", Checksum: "sha256:abc", ValidCells: 8},
		},
		Producer: metadata.ProducerInfo{Name: "soil-loss", Version: "v0.1.0"},
	}
}

func TestComputeEventHash(t *testing.T) {
	evt := testEvent("out")
	evt.SetChainHashes("")

	if !strings.HasPrefix(evt.Chain.EventHash, "sha256:") {
		t.Errorf("EventHash should start with 'sha256:', got: %s", evt.Chain.EventHash)
	}
	if evt.Chain.PrevEventHash != "" {
		t.Errorf("PrevEventHash should be empty for first in chain, got: %s", evt.Chain.PrevEventHash)
	}
}

func TestHashChainDeterminism(t *testing.T) {
	a, b := testEvent("out"), testEvent("out")
	a.SetChainHashes("prev_hash_123")
	b.SetChainHashes("prev_hash_123")

	if a.Chain.EventHash != b.Chain.EventHash {
		t.Errorf("Identical events should produce identical hashes.\n  a: %s\n  b: %s",
			a.Chain.EventHash, b.Chain.EventHash)
	}
}

func TestHashChainDifferentPrevHash(t *testing.T) {
	a, b := testEvent("out"), testEvent("out")
	a.SetChainHashes("prev_hash_A")
	b.SetChainHashes("prev_hash_B")

	if a.Chain.EventHash == b.Chain.EventHash {
		t.Error("Different prev_hash should produce different event_hash")
	}
}

func TestHashChainDifferentContent(t *testing.T) {
	a, b := testEvent("out"), testEvent("out")
	b.Grids["soilloss"] = GridInfo{Key: "out/soilloss", Checksum: "sha256:def", ValidCells: 8}
	a.SetChainHashes("")
	b.SetChainHashes("")

	if a.Chain.EventHash == b.Chain.EventHash {
		t.Error("Different grid checksums should produce different event_hash")
	}
}

func TestEventHashIgnoresOwnHash(t *testing.T) {
	evt := testEvent("out")
	evt.SetChainHashes("")
	want := evt.Chain.EventHash

	evt.Chain.EventHash = "sha256:tampered"
	if got := ComputeEventHash(evt); got != want {
		t.Errorf("ComputeEventHash() = %s, want %s", got, want)
	}
}

func TestStoreEmitterChainsPerOutput(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	e := NewStoreEmitter(store, "")

	first := testEvent("site/2015")
	require.NoError(t, e.Emit(ctx, first))
	second := testEvent("site/2015")
	require.NoError(t, e.Emit(ctx, second))
	other := testEvent("site/2020")
	require.NoError(t, e.Emit(ctx, other))

	assert.Empty(t, first.Chain.PrevEventHash)
	assert.Equal(t, first.Chain.EventHash, second.Chain.PrevEventHash)
	assert.Empty(t, other.Chain.PrevEventHash, "each output has its own chain")
	assert.Equal(t, EventPublished, second.EventType)
	assert.NotEqual(t, first.EventID, second.EventID)

	data, err := store.ReadObject(ctx, EventKey(DefaultPrefix, second))
	require.NoError(t, err)
	var stored Event
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, second.Chain.EventHash, ComputeEventHash(&stored))

	// 2 events plus 1 head for site/2015.
	assert.Len(t, store.keys("_audit/site/2015/"), 3)
}

func TestChainTrackerReloadsHead(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()

	first := testEvent("out")
	require.NoError(t, NewStoreEmitter(store, "audit").Emit(ctx, first))

	// A new emitter over the same store continues the chain.
	next := testEvent("out")
	require.NoError(t, NewStoreEmitter(store, "audit").Emit(ctx, next))
	assert.Equal(t, first.Chain.EventHash, next.Chain.PrevEventHash)

	_, err := NewChainTracker(store, "audit").GetHead(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoChainHead)
}

func TestHTTPEmitterPostsEvent(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ctx := context.Background()
	store := newMapStore()
	e := NewHTTPEmitter(srv.URL, NewStoreEmitter(store, ""))
	defer e.Close()

	evt := testEvent("out")
	require.NoError(t, e.Emit(ctx, evt))
	assert.Equal(t, evt.Chain.EventHash, received.Chain.EventHash)

	head, err := NewChainTracker(store, "").GetHead(ctx, "out")
	require.NoError(t, err)
	assert.Equal(t, evt.Chain.EventHash, head)
}

func TestHTTPEmitterFailureKeepsHead(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx := context.Background()
	store := newMapStore()
	e := NewHTTPEmitter(srv.URL, NewStoreEmitter(store, ""))
	e.delay = time.Millisecond
	defer e.Close()

	evt := testEvent("out")
	err := e.Emit(ctx, evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 503")
	assert.EqualValues(t, 3, calls.Load())

	// The event is stored but the chain does not advance.
	_, err = store.ReadObject(ctx, EventKey(DefaultPrefix, evt))
	assert.NoError(t, err)
	_, err = NewChainTracker(store, "").GetHead(ctx, "out")
	assert.ErrorIs(t, err, ErrNoChainHead)
}

func TestNewEmitterDisabled(t *testing.T) {
	e := NewEmitter(Config{}, newMapStore())
	assert.IsType(t, NoopEmitter{}, e)
	assert.NoError(t, e.Emit(context.Background(), testEvent("out")))
}
