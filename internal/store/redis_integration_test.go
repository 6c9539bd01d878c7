//go:build integration

package store_test

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/admission-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}

	return "localhost:6379"
}

func TestRedisStoreIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:                  getRedisAddr(),
		ContextTimeoutEnabled: true,
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	prefix := "it:" + uuid.NewString() + ":"
	s := store.NewRedisStore(client, store.WithPrefix(prefix))

	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})

	t.Run("lease expires after one second", func(t *testing.T) {
		ok, err := s.TryAcquire(ctx, "ttl", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryAcquire(ctx, "ttl", time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		time.Sleep(1100 * time.Millisecond)

		ok, err = s.TryAcquire(ctx, "ttl", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("at most one concurrent lease", func(t *testing.T) {
		var (
			g        errgroup.Group
			acquired atomic.Int32
		)

		for range 100 {
			g.Go(func() error {
				ok, err := s.TryAcquire(ctx, "race", time.Minute)
				if ok {
					acquired.Add(1)
				}

				return err
			})
		}

		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), acquired.Load())
	})

	t.Run("window admits limit per window", func(t *testing.T) {
		admitted := 0

		for range 8 {
			ok, err := s.IncrementWithWindow(ctx, "window", 5, time.Second)
			require.NoError(t, err)

			if ok {
				admitted++
			}
		}

		assert.Equal(t, 5, admitted)
	})
}
