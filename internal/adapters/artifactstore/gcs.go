package artifactstore

import (
	"context"

	"sleepdx/internal/adapters/gcs"
)

// GCSStore keeps blobs as objects in a bucket, the published location of
// raw corpora, processed data and models
type GCSStore struct {
	client *gcs.Client
}

// NewGCSStore wraps a bucket client
func NewGCSStore(client *gcs.Client) *GCSStore {
	return &GCSStore{client: client}
}

// Name implements Store
func (s *GCSStore) Name() string { return "gcs" }

// Get implements Store
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	return s.client.Read(ctx, clean)
}

// Put implements Store; object writes become visible atomically on close
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	return s.client.Write(ctx, clean, data, ContentType(clean))
}
