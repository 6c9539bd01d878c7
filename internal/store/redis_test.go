package store_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/admission-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisStore_Lease(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire sets key with expiry", func(t *testing.T) {
		mr, client := setupRedis(t)
		s := store.NewRedisStore(client)

		ok, err := s.TryAcquire(ctx, "order:42", 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.True(t, mr.Exists("admission:order:42"))
		assert.Equal(t, 30*time.Second, mr.TTL("admission:order:42"))
	})

	t.Run("second acquire fails while leased", func(t *testing.T) {
		_, client := setupRedis(t)
		s := store.NewRedisStore(client)

		_, _ = s.TryAcquire(ctx, "k", time.Minute)

		ok, err := s.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release then reacquire", func(t *testing.T) {
		_, client := setupRedis(t)
		s := store.NewRedisStore(client)

		_, _ = s.TryAcquire(ctx, "k", time.Minute)

		removed, err := s.Release(ctx, "k")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = s.Release(ctx, "k")
		require.NoError(t, err)
		assert.False(t, removed)

		ok, err := s.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("lease expires", func(t *testing.T) {
		mr, client := setupRedis(t)
		s := store.NewRedisStore(client)

		_, _ = s.TryAcquire(ctx, "k", time.Second)

		exists, err := s.Exists(ctx, "k")
		require.NoError(t, err)
		assert.True(t, exists)

		mr.FastForward(time.Second)

		exists, err = s.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, exists)

		ok, err := s.TryAcquire(ctx, "k", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("custom prefix", func(t *testing.T) {
		mr, client := setupRedis(t)
		s := store.NewRedisStore(client, store.WithPrefix("test:"))

		_, _ = s.TryAcquire(ctx, "k", time.Minute)

		assert.True(t, mr.Exists("test:k"))
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		_, client := setupRedis(t)
		s := store.NewRedisStore(client)

		_, err := s.TryAcquire(ctx, "k", -time.Second)
		require.ErrorIs(t, err, store.ErrInvalidTTL)
	})

	t.Run("rejects sub-millisecond ttl", func(t *testing.T) {
		_, client := setupRedis(t)
		s := store.NewRedisStore(client)

		_, err := s.TryAcquire(ctx, "k", 500*time.Microsecond)
		require.ErrorIs(t, err, store.ErrInvalidTTL)

		_, err = s.IncrementWithWindow(ctx, "w", 1, 500*time.Microsecond)
		require.ErrorIs(t, err, store.ErrInvalidTTL)
	})

	t.Run("surfaces connection errors", func(t *testing.T) {
		mr, client := setupRedis(t)
		s := store.NewRedisStore(client)

		mr.SetError("connection lost")

		_, err := s.TryAcquire(ctx, "k", time.Minute)
		require.Error(t, err)
	})
}

func TestRedisStore_ConcurrentAcquire(t *testing.T) {
	_, client := setupRedis(t)
	s := store.NewRedisStore(client)

	var (
		g        errgroup.Group
		acquired atomic.Int32
	)

	for range 32 {
		g.Go(func() error {
			ok, err := s.TryAcquire(context.Background(), "contended", time.Minute)
			if err != nil {
				return err
			}

			if ok {
				acquired.Add(1)
			}

			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), acquired.Load())
}

func TestRedisStore_IncrementWithWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("admits up to limit", func(t *testing.T) {
		_, client := setupRedis(t)
		s := store.NewRedisStore(client)

		for range 3 {
			ok, err := s.IncrementWithWindow(ctx, "rl", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		}

		ok, err := s.IncrementWithWindow(ctx, "rl", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("first increment starts the window", func(t *testing.T) {
		mr, client := setupRedis(t)
		s := store.NewRedisStore(client)

		_, _ = s.IncrementWithWindow(ctx, "rl", 3, 10*time.Second)

		assert.Equal(t, 10*time.Second, mr.TTL("admission:rl"))

		mr.FastForward(4 * time.Second)

		_, _ = s.IncrementWithWindow(ctx, "rl", 3, 10*time.Second)

		assert.Equal(t, 6*time.Second, mr.TTL("admission:rl"), "later increments must not extend the window")
	})

	t.Run("window reset admits again", func(t *testing.T) {
		mr, client := setupRedis(t)
		s := store.NewRedisStore(client)

		for range 4 {
			_, _ = s.IncrementWithWindow(ctx, "rl", 3, time.Second)
		}

		mr.FastForward(time.Second)

		ok, err := s.IncrementWithWindow(ctx, "rl", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("restores a missing expiry", func(t *testing.T) {
		mr, client := setupRedis(t)
		s := store.NewRedisStore(client)

		require.NoError(t, mr.Set("admission:rl", "7"))

		ok, err := s.IncrementWithWindow(ctx, "rl", 3, time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, time.Second, mr.TTL("admission:rl"))
	})

	t.Run("concurrent increments admit exactly limit", func(t *testing.T) {
		_, client := setupRedis(t)
		s := store.NewRedisStore(client)

		var (
			g        errgroup.Group
			admitted atomic.Int32
		)

		for range 20 {
			g.Go(func() error {
				ok, err := s.IncrementWithWindow(context.Background(), "rl", 5, time.Minute)
				if err != nil {
					return err
				}

				if ok {
					admitted.Add(1)
				}

				return nil
			})
		}

		require.NoError(t, g.Wait())
		assert.Equal(t, int32(5), admitted.Load())
	})
}
