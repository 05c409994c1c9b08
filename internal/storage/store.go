package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/raster"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// File suffixes of a stored grid.
const (
	GridPayloadSuffix = ".bil"
	GridHeaderSuffix  = ".hdr.json"
)

// ObjectStore abstracts byte storage. Put must be atomic: a reader sees
// either the previous object or the complete new one.
type ObjectStore interface {
	// Put writes data under key.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the object at key. Returns ErrNotFound if missing.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3" | "minio" | "mem"

	// Local filesystem
	LocalDir string

	// GCS, S3 and MinIO bucket
	Bucket string

	// S3 (also works for B2, R2)
	S3Endpoint string
	S3Region   string

	// MinIO
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool

	// Common
	Prefix      string // path prefix within bucket or local dir
	Compression string // grid payload compression: "none" | "zstd"
}

// NewObjectStore creates a storage backend based on configuration.
func NewObjectStore(ctx context.Context, cfg StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for gcs backend")
		}
		return NewGCSStore(ctx, cfg.Bucket)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for s3 backend")
		}
		return NewS3Store(ctx, cfg.Bucket, cfg.S3Endpoint, cfg.S3Region)
	case "minio":
		if cfg.Bucket == "" || cfg.MinIOEndpoint == "" {
			return nil, fmt.Errorf("Bucket and MinIOEndpoint required for minio backend")
		}
		return NewMinIOStore(ctx, MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
			Region:    cfg.S3Region,
			Bucket:    cfg.Bucket,
		})
	case "mem":
		return NewMemStore(ctx)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// GridStore persists grids as a BIL payload plus a JSON header on top of an
// ObjectStore. The header is written last, so a grid exists once its header
// does.
type GridStore struct {
	objects ObjectStore
	codec   *raster.Codec
	prefix  string
}

// NewGridStore wraps objects. Keys are joined under prefix.
func NewGridStore(objects ObjectStore, prefix, compression string) (*GridStore, error) {
	codec, err := raster.NewCodec(compression)
	if err != nil {
		return nil, err
	}
	return &GridStore{objects: objects, codec: codec, prefix: strings.Trim(prefix, "/")}, nil
}

// Open builds the configured backend and wraps it in a GridStore.
func Open(ctx context.Context, cfg StorageConfig) (*GridStore, error) {
	objects, err := NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gs, err := NewGridStore(objects, cfg.Prefix, cfg.Compression)
	if err != nil {
		objects.Close()
		return nil, err
	}
	return gs, nil
}

func (s *GridStore) key(name string) string {
	if s.prefix == "" {
		return strings.TrimPrefix(path.Clean("/"+name), "/")
	}
	return path.Join(s.prefix, name)
}

// WriteGrid stores g under key.
func (s *GridStore) WriteGrid(ctx context.Context, key string, g *raster.Grid) error {
	header, payload, err := s.codec.Encode(g)
	if err != nil {
		return fmt.Errorf("encode grid %s: %w", key, err)
	}
	if err := s.objects.Put(ctx, s.key(key)+GridPayloadSuffix, payload); err != nil {
		return fmt.Errorf("write grid payload %s: %w", key, err)
	}
	if err := s.objects.Put(ctx, s.key(key)+GridHeaderSuffix, header); err != nil {
		return fmt.Errorf("write grid header %s: %w", key, err)
	}
	return nil
}

// ReadGrid loads the grid stored under key.
func (s *GridStore) ReadGrid(ctx context.Context, key string) (*raster.Grid, error) {
	header, err := s.objects.Get(ctx, s.key(key)+GridHeaderSuffix)
	if err != nil {
		return nil, fmt.Errorf("read grid header %s: %w", key, err)
	}
	payload, err := s.objects.Get(ctx, s.key(key)+GridPayloadSuffix)
	if err != nil {
		return nil, fmt.Errorf("read grid payload %s: %w", key, err)
	}
	g, err := s.codec.Decode(header, payload)
	if err != nil {
		return nil, fmt.Errorf("decode grid %s: %w", key, err)
	}
	return g, nil
}

// GridExists reports whether a complete grid is stored under key.
func (s *GridStore) GridExists(ctx context.Context, key string) (bool, error) {
	return s.objects.Exists(ctx, s.key(key)+GridHeaderSuffix)
}

// DeleteGrid removes a grid. The header goes first so a partially deleted
// grid reads as absent.
func (s *GridStore) DeleteGrid(ctx context.Context, key string) error {
	if err := s.objects.Delete(ctx, s.key(key)+GridHeaderSuffix); err != nil {
		return fmt.Errorf("delete grid header %s: %w", key, err)
	}
	if err := s.objects.Delete(ctx, s.key(key)+GridPayloadSuffix); err != nil {
		return fmt.Errorf("delete grid payload %s: %w", key, err)
	}
	return nil
}

// WriteObject stores raw bytes under key.
func (s *GridStore) WriteObject(ctx context.Context, key string, data []byte) error {
	return s.objects.Put(ctx, s.key(key), data)
}

// ReadObject reads raw bytes stored under key.
func (s *GridStore) ReadObject(ctx context.Context, key string) ([]byte, error) {
	return s.objects.Get(ctx, s.key(key))
}

// ListGrids returns the grid keys below prefix.
func (s *GridStore) ListGrids(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.objects.List(ctx, s.key(prefix))
	if err != nil {
		return nil, err
	}
	var grids []string
	for _, k := range keys {
		if !strings.HasSuffix(k, GridHeaderSuffix) {
			continue
		}
		k = strings.TrimSuffix(k, GridHeaderSuffix)
		if s.prefix != "" {
			k = strings.TrimPrefix(k, s.prefix+"/")
		}
		grids = append(grids, k)
	}
	return grids, nil
}

// URI returns the canonical URI of a grid payload.
func (s *GridStore) URI(key string) string {
	return s.objects.URI(s.key(key) + GridPayloadSuffix)
}

// Close releases the codec and backend.
func (s *GridStore) Close() error {
	s.codec.Close()
	return s.objects.Close()
}
