package storage

import (
	"context"
	"fmt"
	"net/url"

	_ "gocloud.dev/blob/s3blob" // S3 driver
)

// NewS3Store opens an S3-compatible bucket.
// Works with AWS S3, Backblaze B2 and Cloudflare R2.
func NewS3Store(ctx context.Context, bucketName, endpoint, region string) (*BlobStore, error) {
	// Build URL for gocloud.dev
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	store, err := OpenBlobStore(ctx, bucketURL, fmt.Sprintf("s3://%s/", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}
	return store, nil
}
