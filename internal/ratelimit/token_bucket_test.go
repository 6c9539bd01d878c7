package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/ratelimit"
	"github.com/serroba/admission-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, limiter ratelimit.Limiter, key string, limit int64, window time.Duration) {
	t.Helper()

	for i := range limit {
		d, err := limiter.TryAcquire(context.Background(), key, limit, window)
		require.NoError(t, err)
		require.True(t, d.Allowed, "token %d should be available", i+1)
	}
}

func TestTokenBucketLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("starts full and rejects beyond capacity", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewTokenBucketLimiter(ratelimit.WithBucketClock(clock.Now))

		drain(t, limiter, "k", 5, time.Second)

		d, err := limiter.TryAcquire(ctx, "k", 5, time.Second)

		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, decision.ReasonRateExceeded, d.Reason)
	})

	t.Run("refills one token per second at ten per ten seconds", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewTokenBucketLimiter(ratelimit.WithBucketClock(clock.Now))

		drain(t, limiter, "k", 10, 10*time.Second)

		for range 5 {
			clock.Advance(500 * time.Millisecond)

			d, _ := limiter.TryAcquire(ctx, "k", 10, 10*time.Second)
			assert.False(t, d.Allowed, "half a token is not enough")

			clock.Advance(500 * time.Millisecond)

			d, _ = limiter.TryAcquire(ctx, "k", 10, 10*time.Second)
			assert.True(t, d.Allowed, "one token should be available after a second")

			d, _ = limiter.TryAcquire(ctx, "k", 10, 10*time.Second)
			assert.False(t, d.Allowed, "only one token should be available")
		}
	})

	t.Run("differs from fixed window under the same nominal rate", func(t *testing.T) {
		clock := newFakeClock()
		bucket := ratelimit.NewTokenBucketLimiter(ratelimit.WithBucketClock(clock.Now))
		window := ratelimit.NewFixedWindowLimiter(store.NewMemoryStore(store.WithClock(clock.Now)))

		drain(t, bucket, "k", 10, 10*time.Second)
		drain(t, window, "k", 10, 10*time.Second)

		clock.Advance(3 * time.Second)

		bucketAdmitted, windowAdmitted := 0, 0

		for range 10 {
			if d, _ := bucket.TryAcquire(ctx, "k", 10, 10*time.Second); d.Allowed {
				bucketAdmitted++
			}

			if d, _ := window.TryAcquire(ctx, "k", 10, 10*time.Second); d.Allowed {
				windowAdmitted++
			}
		}

		assert.Equal(t, 3, bucketAdmitted)
		assert.Equal(t, 0, windowAdmitted)

		clock.Advance(7 * time.Second)

		windowAdmitted = 0

		for range 12 {
			if d, _ := window.TryAcquire(ctx, "k", 10, 10*time.Second); d.Allowed {
				windowAdmitted++
			}
		}

		assert.Equal(t, 10, windowAdmitted, "fixed window releases the whole limit at once")
	})

	t.Run("never exceeds capacity after long idle", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewTokenBucketLimiter(ratelimit.WithBucketClock(clock.Now))

		drain(t, limiter, "k", 3, time.Second)
		clock.Advance(time.Hour)
		drain(t, limiter, "k", 3, time.Second)

		d, _ := limiter.TryAcquire(ctx, "k", 3, time.Second)
		assert.False(t, d.Allowed)
	})

	t.Run("reconfigures on changed limit", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewTokenBucketLimiter(ratelimit.WithBucketClock(clock.Now))

		drain(t, limiter, "k", 2, time.Second)

		clock.Advance(time.Second)

		admitted := 0

		for range 10 {
			if d, _ := limiter.TryAcquire(ctx, "k", 4, time.Second); d.Allowed {
				admitted++
			}
		}

		assert.Equal(t, 2, admitted, "tokens accrued at the old rate are capped at the old capacity")

		clock.Advance(time.Second)

		admitted = 0

		for range 10 {
			if d, _ := limiter.TryAcquire(ctx, "k", 4, time.Second); d.Allowed {
				admitted++
			}
		}

		assert.Equal(t, 4, admitted)
	})

	t.Run("concurrent callers never double spend", func(t *testing.T) {
		clock := newFakeClock()
		limiter := ratelimit.NewTokenBucketLimiter(ratelimit.WithBucketClock(clock.Now))

		var (
			wg       sync.WaitGroup
			admitted atomic.Int32
		)

		for range 100 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				if d, err := limiter.TryAcquire(ctx, "shared", 25, time.Minute); err == nil && d.Allowed {
					admitted.Add(1)
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, int32(25), admitted.Load())
	})

	t.Run("rejects invalid limits", func(t *testing.T) {
		limiter := ratelimit.NewTokenBucketLimiter()

		_, err := limiter.TryAcquire(ctx, "k", -1, time.Second)
		require.ErrorIs(t, err, ratelimit.ErrInvalidLimit)
	})
}

func TestTokenBucketLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	limiter := ratelimit.NewTokenBucketLimiter(ratelimit.WithBucketClock(clock.Now))

	_, _ = limiter.TryAcquire(context.Background(), "short", 1, time.Second)
	_, _ = limiter.TryAcquire(context.Background(), "long", 1, time.Hour)

	clock.Advance(time.Second)

	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 1, limiter.Len())
}

func TestTokenBucketLimiter_StartAndClose(t *testing.T) {
	limiter := ratelimit.NewTokenBucketLimiter(ratelimit.WithJanitorPeriod(5 * time.Millisecond))

	_, _ = limiter.TryAcquire(context.Background(), "k", 1, 10*time.Millisecond)

	limiter.Start(context.Background())

	assert.Eventually(t, func() bool {
		return limiter.Len() == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, limiter.Close())
}
