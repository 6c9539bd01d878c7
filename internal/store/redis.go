package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// windowScript increments a counter and starts its window on the first
// increment. A counter that lost its expiry is given one again so it can never
// live forever. Returns the post-increment count.
// KEYS[1] = key
// ARGV[1] = window in milliseconds
var windowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 or redis.call('PTTL', KEYS[1]) < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisStore is the shared Backend. Leases use SET NX PX and the window
// counter a single Lua script, so every primitive is one atomic round trip.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix namespaces every key written by the store.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a new Redis-backed state store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "admission:",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *RedisStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validTTL(ttl); err != nil {
		return false, err
	}

	return s.client.SetNX(ctx, s.prefix+key, uuid.NewString(), ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (s *RedisStore) IncrementWithWindow(
	ctx context.Context, key string, limit int64, window time.Duration,
) (bool, error) {
	if err := validTTL(window); err != nil {
		return false, err
	}

	count, err := windowScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}

	return count <= limit, nil
}

// Close is a no-op; the client is managed by its owner.
func (s *RedisStore) Close() error {
	return nil
}

var _ Backend = (*RedisStore)(nil)
