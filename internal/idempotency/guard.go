// Package idempotency admits a logical operation at most once per dedup
// window by leasing its key in the state store.
//
// A key moves through ABSENT -> LEASED -> COMPLETED | RELEASED. COMPLETED
// leaves the lease to expire after its ttl; RELEASED deletes it so the key is
// immediately reusable.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/store"
	"go.uber.org/zap"
)

// State is the lifecycle state of a lease as seen by the call that took it.
type State string

const (
	StateAbsent    State = "absent"
	StateLeased    State = "leased"
	StateCompleted State = "completed"
	StateReleased  State = "released"
)

// ErrOutcomeUnknown is returned when the caller's context ended while the
// store call was in flight. The lease may or may not have been taken; use
// Probe to find out.
var ErrOutcomeUnknown = errors.New("admission outcome unknown")

const defaultCleanupTimeout = time.Second

// Operation is the guarded business operation.
type Operation func(ctx context.Context) error

// Result is the outcome of a guarded execution.
type Result struct {
	decision.Decision
	State State
}

// Guard implements the at-most-once execution protocol on a LeaseStore.
type Guard struct {
	leases         store.LeaseStore
	policy         store.FailurePolicy
	observer       decision.Observer
	logger         *zap.Logger
	cleanupTimeout time.Duration

	tokenTTL      time.Duration
	generateToken TokenGenerator
	now           func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithFailurePolicy sets the decision taken when the store is unavailable.
func WithFailurePolicy(policy store.FailurePolicy) Option {
	return func(g *Guard) { g.policy = policy }
}

// WithObserver sets the observer notified of store failures.
func WithObserver(observer decision.Observer) Option {
	return func(g *Guard) { g.observer = observer }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithCleanupTimeout bounds the release that follows an execution.
func WithCleanupTimeout(d time.Duration) Option {
	return func(g *Guard) { g.cleanupTimeout = d }
}

// NewGuard creates a new idempotency guard.
func NewGuard(leases store.LeaseStore, opts ...Option) *Guard {
	g := &Guard{
		leases:         leases,
		policy:         store.FailOpen,
		observer:       decision.Nop{},
		logger:         zap.NewNop(),
		cleanupTimeout: defaultCleanupTimeout,
		tokenTTL:       defaultTokenTTL,
		generateToken:  defaultTokenGenerator(),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// CheckAndLease takes the lease for key. A rejection means another call
// already holds it and is a duplicate, not an error.
func (g *Guard) CheckAndLease(ctx context.Context, key string, ttl time.Duration) (decision.Decision, error) {
	if ttl < time.Millisecond {
		return decision.Decision{}, fmt.Errorf("%w: %s", store.ErrInvalidTTL, ttl)
	}

	acquired, err := g.leases.TryAcquire(ctx, key, ttl)
	if err != nil {
		return g.storeFailure(ctx, store.OpTryAcquire, key, err)
	}

	if !acquired {
		g.logger.Debug("duplicate operation rejected", zap.String("key", key))

		return decision.Reject(decision.ReasonDuplicate), nil
	}

	return decision.Allow(), nil
}

// Execute runs op at most once per lease of key. A rejected call never
// invokes op. When deleteAfter is set the lease is released once op returns,
// fails or panics; otherwise it expires after ttl. The error from op is
// returned unchanged.
func (g *Guard) Execute(
	ctx context.Context, key string, ttl time.Duration, deleteAfter bool, op Operation,
) (Result, error) {
	d, err := g.CheckAndLease(ctx, key, ttl)
	if err != nil {
		return Result{Decision: d, State: StateAbsent}, err
	}

	if !d.Allowed {
		return Result{Decision: d, State: StateAbsent}, nil
	}

	// A degraded admission holds no lease, so there is nothing to release.
	if d.Degraded {
		return Result{Decision: d, State: StateAbsent}, op(ctx)
	}

	res := Result{Decision: d, State: StateLeased}

	if deleteAfter {
		defer g.cleanup(ctx, key)

		res.State = StateReleased
	} else {
		res.State = StateCompleted
	}

	return res, op(ctx)
}

func (g *Guard) cleanup(ctx context.Context, key string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cleanupTimeout)
	defer cancel()

	if _, err := g.leases.Release(cleanupCtx, key); err != nil {
		g.observer.OnBackendFailure(ctx, store.OpRelease, err)
		g.logger.Warn("failed to release lease after execution; it will expire after its ttl",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// Release deletes the lease for key and reports whether one was removed.
// A store failure is logged and reported as not removed.
func (g *Guard) Release(ctx context.Context, key string) (bool, error) {
	removed, err := g.leases.Release(ctx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("%w: %w", ErrOutcomeUnknown, ctxErr)
		}

		g.observer.OnBackendFailure(ctx, store.OpRelease, err)
		g.logger.Warn("failed to release lease", zap.String("key", key), zap.Error(err))

		return false, nil
	}

	return removed, nil
}

// Probe reports whether a lease for key exists without taking it. Unlike the
// admission operations it returns store failures, since there is no policy
// that can answer a read on the store's behalf.
func (g *Guard) Probe(ctx context.Context, key string) (bool, error) {
	exists, err := g.leases.Exists(ctx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}

		g.observer.OnBackendFailure(ctx, store.OpExists, err)

		return false, err
	}

	return exists, nil
}

// storeFailure turns a failed store call into a decision. Only the caller's
// own cancellation and invalid arguments are returned as errors.
func (g *Guard) storeFailure(ctx context.Context, op, key string, err error) (decision.Decision, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return decision.Decision{}, fmt.Errorf("%w: %w", ErrOutcomeUnknown, ctxErr)
	}

	if errors.Is(err, store.ErrInvalidTTL) {
		return decision.Decision{}, err
	}

	g.observer.OnBackendFailure(ctx, op, err)

	d := decision.Degrade(g.policy.Admits())

	g.logger.Warn("idempotency store unavailable",
		zap.String("operation", op),
		zap.String("key", key),
		zap.String("failure_policy", string(g.policy)),
		zap.Bool("allowed", d.Allowed),
		zap.Error(err),
	)

	return d, nil
}
