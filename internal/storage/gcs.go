package storage

import (
	"context"
	"fmt"

	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// NewGCSStore opens a Google Cloud Storage bucket.
func NewGCSStore(ctx context.Context, bucketName string) (*BlobStore, error) {
	store, err := OpenBlobStore(ctx, fmt.Sprintf("gs://%s", bucketName), fmt.Sprintf("gs://%s/", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}
	return store, nil
}
