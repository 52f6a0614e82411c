package artifactstore

import (
	"context"
	"time"

	"sleepdx/internal/adapters/redis"
	"sleepdx/pkg/errors"
)

// RedisStore keeps blobs as plain Redis strings
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a connected client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Name implements Store
func (s *RedisStore) Name() string { return "redis" }

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	return s.client.GetBytes(ctx, clean)
}

// Put implements Store; SET replaces the value atomically
func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	return s.client.SetBytes(ctx, clean, data, 0)
}

// Lock implements Locker with SETNX and a TTL
func (s *RedisStore) Lock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	ok, err := s.client.AcquireLock(ctx, name, ttl)
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %s", name)
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnavailable, "lock %s is held", name)
	}
	return func(ctx context.Context) error {
		return s.client.ReleaseLock(ctx, name)
	}, nil
}
