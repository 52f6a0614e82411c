package artifactstore

import (
	"context"
	"time"

	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// CachedStore fronts a remote store with a local copy. Reads go to the remote
// first and refresh the local copy; when the remote is unreachable the last
// local copy is served instead. A remote ErrNotFound is never masked by the
// cache. Writes go to the remote, then the cache.
type CachedStore struct {
	remote Store
	local  Store
	log    *logger.Logger
}

// NewCachedStore wraps remote with a local cache
func NewCachedStore(remote, local Store) *CachedStore {
	return &CachedStore{
		remote: remote,
		local:  local,
		log:    logger.Get().With("component", "artifact_cache", "remote", remote.Name(), "local", local.Name()),
	}
}

// Name implements Store
func (s *CachedStore) Name() string { return s.remote.Name() + "+" + s.local.Name() }

// Get implements Store
func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.remote.Get(ctx, key)
	if err == nil {
		if cerr := s.local.Put(ctx, key, data); cerr != nil {
			s.log.Warnw("Failed to refresh local cache", "key", key, "error", cerr)
		}
		return data, nil
	}
	if errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrInvalidInput) || ctx.Err() != nil {
		return nil, err
	}

	cached, cerr := s.local.Get(ctx, key)
	if cerr != nil {
		return nil, errors.Wrapf(err, "remote unavailable and no local copy (%v)", cerr)
	}
	s.log.Warnw("Remote store unavailable, serving local copy", "key", key, "error", err)
	return cached, nil
}

// Put implements Store
func (s *CachedStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.remote.Put(ctx, key, data); err != nil {
		return err
	}
	if err := s.local.Put(ctx, key, data); err != nil {
		s.log.Warnw("Failed to write local cache", "key", key, "error", err)
	}
	return nil
}

// Lock delegates to the remote store when it supports locking
func (s *CachedStore) Lock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	if l, ok := s.remote.(Locker); ok {
		return l.Lock(ctx, name, ttl)
	}
	return func(context.Context) error { return nil }, nil
}
