package artifactstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepdx/internal/adapters/config"
	"sleepdx/internal/adapters/redis"
	"sleepdx/pkg/errors"
)

func TestRedisStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set, skipping test")
	}

	ctx := context.Background()
	client, err := redis.NewClient(ctx, config.RedisConfig{
		Host:      host,
		Port:      6379,
		KeyPrefix: "sleepdx-test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Delete(context.Background(), "models/artifact.art")
		_ = client.Close()
	})

	s := NewRedisStore(client)
	storeContract(t, s)

	unlock, err := s.Lock(ctx, "publish", 10*time.Second)
	require.NoError(t, err)

	_, err = s.Lock(ctx, "publish", 10*time.Second)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	require.NoError(t, unlock(ctx))
	unlock, err = s.Lock(ctx, "publish", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}
