package gcs

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"sleepdx/internal/adapters/config"
	"sleepdx/pkg/errors"
)

// Client wraps a GCS bucket handle
type Client struct {
	storageClient *storage.Client
	bucket        string
}

// NewClient creates a client for the configured bucket. Without a credentials
// file the application default credentials are used.
func NewClient(ctx context.Context, cfg config.GCSConfig) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, errors.Wrapf(err, "service account key not readable at %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCS storage client")
	}

	return &Client{storageClient: storageClient, bucket: cfg.Bucket}, nil
}

// Bucket returns the bucket name
func (c *Client) Bucket() string {
	return c.bucket
}

// Read downloads an object. A missing object is ErrNotFound.
func (c *Client) Read(ctx context.Context, path string) ([]byte, error) {
	reader, err := c.storageClient.Bucket(c.bucket).Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.Wrapf(errors.ErrNotFound, "gs://%s/%s", c.bucket, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open gs://%s/%s", c.bucket, path)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read gs://%s/%s", c.bucket, path)
	}
	return data, nil
}

// Write uploads an object, replacing any previous content
func (c *Client) Write(ctx context.Context, path string, data []byte, contentType string) error {
	writer := c.storageClient.Bucket(c.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return errors.Wrapf(err, "failed to write gs://%s/%s", c.bucket, path)
	}
	if err := writer.Close(); err != nil {
		return errors.Wrapf(err, "failed to close GCS writer for %s", path)
	}
	return nil
}

// Health checks the bucket is reachable
func (c *Client) Health(ctx context.Context) error {
	_, err := c.storageClient.Bucket(c.bucket).Attrs(ctx)
	return err
}

// Close closes the storage client
func (c *Client) Close() error {
	return c.storageClient.Close()
}
