package artifactstore

import (
	"context"
	"path"
	"strings"
	"time"

	"sleepdx/pkg/errors"
)

// Store is a flat key/blob store holding artifacts, metrics and corpora.
// Keys are slash-separated relative paths such as "models/artifact.art".
type Store interface {
	// Get returns the blob under key; a missing key is ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the blob under key. Readers see the old or the new blob, never a mix.
	Put(ctx context.Context, key string, data []byte) error

	// Name identifies the backend in logs and metrics
	Name() string
}

// Locker is implemented by stores that can serialize publishers across processes
type Locker interface {
	Lock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// CleanKey validates a key and returns its canonical form
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", errors.Wrapf(errors.ErrInvalidInput, "key %q must be a relative slash path", key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Wrapf(errors.ErrInvalidInput, "key %q escapes the store", key)
	}
	return clean, nil
}

// ContentType guesses a content type from the key extension
func ContentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
