package storage

import (
	"context"

	_ "gocloud.dev/blob/memblob" // in-memory driver
)

// NewMemStore opens a process-local in-memory bucket. Used for tests and
// dry runs.
func NewMemStore(ctx context.Context) (*BlobStore, error) {
	return OpenBlobStore(ctx, "mem://", "mem://")
}
