package store

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const (
	defaultShards        = 32
	defaultSweepInterval = time.Minute
)

type entry struct {
	expiresAt time.Time
	count     int64
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// MemoryStore is the in-process Backend used when no shared store is
// configured. State is owned by this process only. Entries expire lazily on
// access and are swept periodically once Start is called.
type MemoryStore struct {
	shards        []*shard
	now           func() time.Time
	sweepInterval time.Duration
	logger        *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithSweepInterval sets how often expired entries are swept.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweepInterval = d }
}

// WithShards sets the number of lock shards.
func WithShards(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger *zap.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = logger }
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		shards:        newShards(defaultShards),
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
		logger:        zap.NewNop(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entry)}
	}

	return shards
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// live returns the entry for key if it has not expired, dropping it otherwise.
// The shard lock must be held.
func (sh *shard) live(key string, now time.Time) *entry {
	e, ok := sh.entries[key]
	if !ok {
		return nil
	}

	if !now.Before(e.expiresAt) {
		delete(sh.entries, key)

		return nil
	}

	return e
}

func (s *MemoryStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := validTTL(ttl); err != nil {
		return false, err
	}

	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.live(key, now) != nil {
		return false, nil
	}

	sh.entries[key] = &entry{expiresAt: now.Add(ttl)}

	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.live(key, s.now()) == nil {
		return false, nil
	}

	delete(sh.entries, key)

	return true, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.live(key, s.now()) != nil, nil
}

func (s *MemoryStore) IncrementWithWindow(
	ctx context.Context, key string, limit int64, window time.Duration,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := validTTL(window); err != nil {
		return false, err
	}

	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := sh.live(key, now)
	if e == nil {
		e = &entry{expiresAt: now.Add(window)}
		sh.entries[key] = e
	}

	e.count++

	return e.count <= limit, nil
}

// Sweep removes expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0

	for _, sh := range s.shards {
		sh.mu.Lock()

		for key, e := range sh.entries {
			if !now.Before(e.expiresAt) {
				delete(sh.entries, key)
				removed++
			}
		}

		sh.mu.Unlock()
	}

	return removed
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	n := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}

	return n
}

// Start launches the sweeper. It stops when ctx is done or Close is called.
// Calling Start more than once has no effect.
func (s *MemoryStore) Start(ctx context.Context) {
	if s.sweepInterval <= 0 {
		return
	}

	s.startOnce.Do(func() {
		go s.sweepLoop(ctx)
	})
}

func (s *MemoryStore) sweepLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept expired entries", zap.Int("count", n))
			}
		}
	}
}

// Close stops the sweeper and waits for it to exit.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)

		started := true

		s.startOnce.Do(func() { started = false })

		if started {
			<-s.done
		}
	})

	return nil
}

// Shutdown implements do.Shutdownable.
func (s *MemoryStore) Shutdown() error {
	return s.Close()
}

var _ Backend = (*MemoryStore)(nil)
