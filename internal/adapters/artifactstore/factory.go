package artifactstore

import (
	"context"
	"path/filepath"

	"sleepdx/internal/adapters/config"
	"sleepdx/internal/adapters/gcs"
	"sleepdx/internal/adapters/redis"
	"sleepdx/pkg/errors"
)

// Opened is a store plus the cleanup for the clients behind it
type Opened struct {
	Store   Store
	Health  map[string]func(context.Context) error // remote clients only
	closers []func() error
}

// Close releases every client opened for the store
func (o *Opened) Close() error {
	var errs errors.MultiError
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs.Add(o.closers[i]())
	}
	return errs.ToError()
}

// Open builds the configured backend. Remote backends get a local file cache
// in front of them when caching is enabled.
func Open(ctx context.Context, cfg *config.Config) (*Opened, error) {
	o := &Opened{Health: make(map[string]func(context.Context) error)}

	var remote Store
	switch cfg.Artifact.Backend {
	case config.BackendFS:
		s, err := NewFSStore(cfg.Artifact.Root)
		if err != nil {
			return nil, err
		}
		o.Store = s
		return o, nil

	case config.BackendBadger:
		s, err := OpenBadgerStore(cfg.Badger)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, s.Close)
		o.Store = s
		return o, nil

	case config.BackendRedis:
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, client.Close)
		o.Health["redis"] = client.Health
		remote = NewRedisStore(client)

	case config.BackendGCS:
		client, err := gcs.NewClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, client.Close)
		o.Health["gcs"] = client.Health
		remote = NewGCSStore(client)

	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown artifact backend %q", cfg.Artifact.Backend)
	}

	if !cfg.Artifact.CacheLocal {
		o.Store = remote
		return o, nil
	}

	local, err := NewFSStore(filepath.Join(cfg.Artifact.CacheDir, remote.Name()))
	if err != nil {
		_ = o.Close()
		return nil, err
	}
	o.Store = NewCachedStore(remote, local)
	return o, nil
}
