package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/store"
	"go.uber.org/zap"
)

// Option configures a FixedWindowLimiter.
type Option func(*FixedWindowLimiter)

// WithFailurePolicy sets the decision taken when the store is unavailable.
func WithFailurePolicy(policy store.FailurePolicy) Option {
	return func(l *FixedWindowLimiter) { l.policy = policy }
}

// WithObserver sets the observer notified of store failures.
func WithObserver(observer decision.Observer) Option {
	return func(l *FixedWindowLimiter) { l.observer = observer }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *FixedWindowLimiter) { l.logger = logger }
}

// FixedWindowLimiter implements rate limiting on top of an atomic
// increment-with-expiry. The window starts at the first call for a key.
type FixedWindowLimiter struct {
	counter  store.WindowCounter
	policy   store.FailurePolicy
	observer decision.Observer
	logger   *zap.Logger
}

// NewFixedWindowLimiter creates a new fixed window rate limiter.
func NewFixedWindowLimiter(counter store.WindowCounter, opts ...Option) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		counter:  counter,
		policy:   store.FailOpen,
		observer: decision.Nop{},
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *FixedWindowLimiter) TryAcquire(
	ctx context.Context, key string, limit int64, window time.Duration,
) (decision.Decision, error) {
	if err := validate(limit, window); err != nil {
		return decision.Decision{}, err
	}

	allowed, err := l.counter.IncrementWithWindow(ctx, key, limit, window)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return decision.Decision{}, ctxErr
		}

		if errors.Is(err, store.ErrInvalidTTL) {
			return decision.Decision{}, err
		}

		return l.degrade(ctx, key, err), nil
	}

	if !allowed {
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("limit", limit),
			zap.Duration("window", window),
		)

		return decision.Reject(decision.ReasonRateExceeded), nil
	}

	return decision.Allow(), nil
}

func (l *FixedWindowLimiter) degrade(ctx context.Context, key string, err error) decision.Decision {
	l.observer.OnBackendFailure(ctx, store.OpIncrement, err)

	d := decision.Degrade(l.policy.Admits())

	l.logger.Warn("rate limit store unavailable",
		zap.String("key", key),
		zap.String("failure_policy", string(l.policy)),
		zap.Bool("allowed", d.Allowed),
		zap.Error(err),
	)

	return d
}

var _ Limiter = (*FixedWindowLimiter)(nil)
