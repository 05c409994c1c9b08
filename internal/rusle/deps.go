package rusle

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
	"github.com/withObsrvr/obsrvr-soil-loss/internal/source"
)

// Store persists grids and small documents by key. storage.GridStore
// implements it.
type Store interface {
	ReadGrid(ctx context.Context, key string) (*raster.Grid, error)
	WriteGrid(ctx context.Context, key string, g *raster.Grid) error
	GridExists(ctx context.Context, key string) (bool, error)
	DeleteGrid(ctx context.Context, key string) error
	ReadObject(ctx context.Context, key string) ([]byte, error)
	WriteObject(ctx context.Context, key string, data []byte) error
	URI(key string) string
}

// Inputs describes and loads user-supplied datasets. source.Resolver
// implements it.
type Inputs interface {
	Describe(ctx context.Context, ref source.Ref) (source.Info, error)
	Footprint(ctx context.Context, ref source.Ref, crs string) (raster.Footprint, error)
	Load(ctx context.Context, ref source.Ref, target raster.Definition) (*raster.Grid, error)
}

// TableSource provides the factor lookup tables by name.
type TableSource interface {
	Table(ctx context.Context, name string) (*raster.LookupTable, error)
}

// Lookup tables used by the preprocessed K and C options.
const (
	TableHWSD    = "rusle_hwsd"
	TableESACCI  = "rusle_esacci"
	tableFileExt = ".csv"
)

type tableColumns struct {
	key, value string
}

var tableSchemas = map[string]tableColumns{
	TableHWSD:   {key: "MU_GLOBAL", value: "K_Stewart"},
	TableESACCI: {key: "LC_CODE", value: "CFACTOR"},
}

// StoreTables reads lookup tables as CSV objects under a store prefix,
// caching each table after its first read.
type StoreTables struct {
	store  Store
	prefix string

	mu    sync.Mutex
	cache map[string]*raster.LookupTable
}

// NewStoreTables creates a table source reading <prefix>/<name>.csv.
func NewStoreTables(store Store, prefix string) *StoreTables {
	return &StoreTables{
		store:  store,
		prefix: prefix,
		cache:  make(map[string]*raster.LookupTable),
	}
}

// Table implements TableSource.
func (t *StoreTables) Table(ctx context.Context, name string) (*raster.LookupTable, error) {
	cols, ok := tableSchemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown lookup table %q", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if tbl, ok := t.cache[name]; ok {
		return tbl, nil
	}

	key := joinKey(t.prefix, name+tableFileExt)
	data, err := t.store.ReadObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read lookup table %s: %w", key, err)
	}
	tbl, err := raster.ReadLookupCSV(bytes.NewReader(data), name, cols.key, cols.value)
	if err != nil {
		return nil, err
	}
	t.cache[name] = tbl
	return tbl, nil
}
