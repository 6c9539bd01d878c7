package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/serroba/admission-go/internal/decision"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBucketShards  = 32
	defaultJanitorPeriod = time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	limit    int64
	window   time.Duration
	lastSeen time.Time
}

type bucketShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// TokenBucketLimiter keeps one token bucket per key in this process. The
// bucket holds limit tokens and refills continuously at limit/window tokens
// per second. It never consults the shared store, so it cannot degrade.
type TokenBucketLimiter struct {
	shards        []*bucketShard
	now           func() time.Time
	janitorPeriod time.Duration
	logger        *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// BucketOption configures a TokenBucketLimiter.
type BucketOption func(*TokenBucketLimiter)

// WithBucketClock overrides the time source.
func WithBucketClock(now func() time.Time) BucketOption {
	return func(l *TokenBucketLimiter) { l.now = now }
}

// WithJanitorPeriod sets how often idle buckets are evicted.
func WithJanitorPeriod(d time.Duration) BucketOption {
	return func(l *TokenBucketLimiter) { l.janitorPeriod = d }
}

// WithBucketLogger sets the logger.
func WithBucketLogger(logger *zap.Logger) BucketOption {
	return func(l *TokenBucketLimiter) { l.logger = logger }
}

// NewTokenBucketLimiter creates a new process-local token bucket limiter.
func NewTokenBucketLimiter(opts ...BucketOption) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		now:           time.Now,
		janitorPeriod: defaultJanitorPeriod,
		logger:        zap.NewNop(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	l.shards = make([]*bucketShard, defaultBucketShards)
	for i := range l.shards {
		l.shards[i] = &bucketShard{buckets: make(map[string]*bucket)}
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func refillRate(limit int64, window time.Duration) rate.Limit {
	return rate.Limit(float64(limit) / window.Seconds())
}

func (l *TokenBucketLimiter) TryAcquire(
	ctx context.Context, key string, limit int64, window time.Duration,
) (decision.Decision, error) {
	if err := ctx.Err(); err != nil {
		return decision.Decision{}, err
	}

	if err := validate(limit, window); err != nil {
		return decision.Decision{}, err
	}

	now := l.now()
	sh := l.shards[xxhash.Sum64String(key)%uint64(len(l.shards))]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(refillRate(limit, window), int(limit)),
			limit:   limit,
			window:  window,
		}
		sh.buckets[key] = b
	} else if b.limit != limit || b.window != window {
		b.limiter.SetLimitAt(now, refillRate(limit, window))
		b.limiter.SetBurstAt(now, int(limit))
		b.limit = limit
		b.window = window
	}

	b.lastSeen = now

	if !b.limiter.AllowN(now, 1) {
		return decision.Reject(decision.ReasonRateExceeded), nil
	}

	return decision.Allow(), nil
}

// Sweep evicts buckets idle for at least their window. Such a bucket has
// refilled completely, so dropping it is indistinguishable from keeping it.
func (l *TokenBucketLimiter) Sweep() int {
	now := l.now()
	removed := 0

	for _, sh := range l.shards {
		sh.mu.Lock()

		for key, b := range sh.buckets {
			if now.Sub(b.lastSeen) >= b.window {
				delete(sh.buckets, key)
				removed++
			}
		}

		sh.mu.Unlock()
	}

	return removed
}

// Len returns the number of live buckets.
func (l *TokenBucketLimiter) Len() int {
	n := 0

	for _, sh := range l.shards {
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}

	return n
}

// Start launches the janitor. It stops when ctx is done or Close is called.
func (l *TokenBucketLimiter) Start(ctx context.Context) {
	if l.janitorPeriod <= 0 {
		return
	}

	l.startOnce.Do(func() {
		go l.janitor(ctx)
	})
}

func (l *TokenBucketLimiter) janitor(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.janitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("evicted idle token buckets", zap.Int("count", n))
			}
		}
	}
}

// Close stops the janitor and waits for it to exit.
func (l *TokenBucketLimiter) Close() error {
	l.stopOnce.Do(func() {
		close(l.stop)

		started := true

		l.startOnce.Do(func() { started = false })

		if started {
			<-l.done
		}
	})

	return nil
}

// Shutdown implements do.Shutdownable.
func (l *TokenBucketLimiter) Shutdown() error {
	return l.Close()
}

var _ Limiter = (*TokenBucketLimiter)(nil)
