package archive

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSBucket stores objects in Google Cloud Storage.
type GCSBucket struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds configuration for GCSBucket.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSBucket uses Application Default Credentials.
func NewGCSBucket(ctx context.Context, cfg GCSConfig) (*GCSBucket, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSBucket{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (b *GCSBucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := b.client.Bucket(b.bucket).Object(b.prefix + key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed for %s: %w", key, err)
	}
	return nil
}

func (b *GCSBucket) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := b.client.Bucket(b.bucket).Object(b.prefix + key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get failed for %s: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

func (b *GCSBucket) Close() error {
	return b.client.Close()
}
