package storage

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
)

func testGrid(t *testing.T) *raster.Grid {
	t.Helper()
	g, err := raster.FromValues(raster.Definition{
		Rows: 2, Cols: 2, CellSize: 30, XMin: 500000, YMax: 4100000,
		CRS: "+proj=utm +zone=33 +datum=WGS84 +units=m +no_defs",
	}, []float64{1.25, math.NaN(), 3, 4})
	if err != nil {
		t.Fatalf("FromValues failed: %v", err)
	}
	return g
}

func TestLocalStoreGridLifecycle(t *testing.T) {
	// Create temp directory
	tmpDir, err := os.MkdirTemp("", "soilloss-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	objects, err := NewLocalStore(tmpDir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	store, err := NewGridStore(objects, "runs/", "zstd")
	if err != nil {
		t.Fatalf("NewGridStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	g := testGrid(t)

	exists, err := store.GridExists(ctx, "out1/soilloss")
	if err != nil {
		t.Fatalf("GridExists failed: %v", err)
	}
	if exists {
		t.Error("grid should not exist before WriteGrid")
	}

	if err := store.WriteGrid(ctx, "out1/soilloss", g); err != nil {
		t.Fatalf("WriteGrid failed: %v", err)
	}

	// Both halves land under the prefix, no temp files left behind
	for _, suffix := range []string{GridPayloadSuffix, GridHeaderSuffix} {
		path := filepath.Join(tmpDir, "runs", "out1", "soilloss"+suffix)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
		if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
			t.Errorf("temp file %s.tmp should be gone", path)
		}
	}

	back, err := store.ReadGrid(ctx, "out1/soilloss")
	if err != nil {
		t.Fatalf("ReadGrid failed: %v", err)
	}
	if !raster.Equal(g, back) {
		t.Error("grid read back differs from grid written")
	}

	keys, err := store.ListGrids(ctx, "out1")
	if err != nil {
		t.Fatalf("ListGrids failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "out1/soilloss" {
		t.Errorf("ListGrids = %v, want [out1/soilloss]", keys)
	}

	if err := store.DeleteGrid(ctx, "out1/soilloss"); err != nil {
		t.Fatalf("DeleteGrid failed: %v", err)
	}
	exists, _ = store.GridExists(ctx, "out1/soilloss")
	if exists {
		t.Error("grid should not exist after DeleteGrid")
	}

	// Deleting twice is fine
	if err := store.DeleteGrid(ctx, "out1/soilloss"); err != nil {
		t.Errorf("second DeleteGrid failed: %v", err)
	}
}

func TestLocalStoreMissingKey(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	_, err = store.Get(context.Background(), "nope/params.yaml")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHeaderlessGridIsAbsent(t *testing.T) {
	ctx := context.Background()
	objects, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	store, err := NewGridStore(objects, "", "none")
	if err != nil {
		t.Fatalf("NewGridStore failed: %v", err)
	}

	// Simulate a crash between payload and header writes
	if err := objects.Put(ctx, "out/rFactor"+GridPayloadSuffix, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	exists, err := store.GridExists(ctx, "out/rFactor")
	if err != nil {
		t.Fatalf("GridExists failed: %v", err)
	}
	if exists {
		t.Error("a grid without a header should read as absent")
	}
}

func TestMemStoreGridRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, StorageConfig{Backend: "mem", Compression: "none"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	g := testGrid(t)
	if err := store.WriteGrid(ctx, "a/b", g); err != nil {
		t.Fatalf("WriteGrid failed: %v", err)
	}
	back, err := store.ReadGrid(ctx, "a/b")
	if err != nil {
		t.Fatalf("ReadGrid failed: %v", err)
	}
	if !raster.Equal(g, back) {
		t.Error("grid read back differs from grid written")
	}

	if _, err := store.ReadGrid(ctx, "a/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if got := store.URI("a/b"); got != "mem://a/b.bil" {
		t.Errorf("URI = %s, want mem://a/b.bil", got)
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := NewObjectStore(context.Background(), StorageConfig{Backend: "ftp"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
