package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Operation names used in metrics, logs and errors.
const (
	OpTryAcquire = "try_acquire"
	OpRelease    = "release"
	OpExists     = "exists"
	OpIncrement  = "increment_with_window"
)

// ResilientConfig holds configuration for a Resilient store.
type ResilientConfig struct {
	// Name labels metrics and the circuit breaker.
	Name string

	// Timeout bounds every backend call.
	Timeout time.Duration

	// ConsecutiveFailures opens the circuit. Zero disables the breaker.
	ConsecutiveFailures uint32

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration

	Logger *zap.Logger
}

// DefaultResilientConfig returns a ResilientConfig with default values.
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		Name:                "redis",
		Timeout:             100 * time.Millisecond,
		ConsecutiveFailures: 5,
		OpenTimeout:         5 * time.Second,
	}
}

// errCallerGone marks a call abandoned by its caller. The backend was not
// at fault, so the breaker counts it as a success.
var errCallerGone = errors.New("caller abandoned the call")

// Resilient wraps a Backend so that it never blocks longer than the call
// timeout and never surfaces raw transport errors: any failure to reach the
// backend becomes ErrBackendUnavailable. A caller that abandons the call gets
// its own context error back; the outcome of that call is unknown.
type Resilient struct {
	backend Backend
	name    string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewResilient wraps backend.
func NewResilient(backend Backend, config *ResilientConfig) *Resilient {
	if config == nil {
		config = DefaultResilientConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultResilientConfig().Timeout
	}

	r := &Resilient{
		backend: backend,
		name:    config.Name,
		timeout: timeout,
		logger:  logger,
	}

	if config.ConsecutiveFailures > 0 {
		threshold := config.ConsecutiveFailures
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        config.Name,
			MaxRequests: 1,
			Timeout:     config.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, errCallerGone) || errors.Is(err, ErrInvalidTTL)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("state store circuit breaker state change",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
				storeBreakerState.WithLabelValues(name).Set(float64(breakerStateValue(to)))
			},
		})
	}

	return r
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (r *Resilient) call(ctx context.Context, op string, fn func(ctx context.Context) (bool, error)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	start := time.Now()

	run := func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		ok, err := fn(callCtx)
		if err != nil && ctx.Err() != nil {
			return ok, fmt.Errorf("%w: %w", errCallerGone, ctx.Err())
		}

		return ok, err
	}

	var (
		res interface{}
		err error
	)

	if r.breaker != nil {
		res, err = r.breaker.Execute(run)
	} else {
		res, err = run()
	}

	storeOperationDuration.WithLabelValues(r.name, op).Observe(time.Since(start).Seconds())

	if err == nil {
		storeOperationsTotal.WithLabelValues(r.name, op, statusOK).Inc()

		return res.(bool), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		storeOperationsTotal.WithLabelValues(r.name, op, statusCanceled).Inc()

		return false, ctxErr
	}

	if errors.Is(err, ErrInvalidTTL) {
		storeOperationsTotal.WithLabelValues(r.name, op, statusError).Inc()

		return false, err
	}

	status := statusError
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		status = statusCircuitOpen
	}

	storeOperationsTotal.WithLabelValues(r.name, op, status).Inc()

	return false, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
}

func (r *Resilient) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.call(ctx, OpTryAcquire, func(ctx context.Context) (bool, error) {
		return r.backend.TryAcquire(ctx, key, ttl)
	})
}

func (r *Resilient) Release(ctx context.Context, key string) (bool, error) {
	return r.call(ctx, OpRelease, func(ctx context.Context) (bool, error) {
		return r.backend.Release(ctx, key)
	})
}

func (r *Resilient) Exists(ctx context.Context, key string) (bool, error) {
	return r.call(ctx, OpExists, func(ctx context.Context) (bool, error) {
		return r.backend.Exists(ctx, key)
	})
}

func (r *Resilient) IncrementWithWindow(
	ctx context.Context, key string, limit int64, window time.Duration,
) (bool, error) {
	return r.call(ctx, OpIncrement, func(ctx context.Context) (bool, error) {
		return r.backend.IncrementWithWindow(ctx, key, limit, window)
	})
}

// Close closes the wrapped backend.
func (r *Resilient) Close() error {
	return r.backend.Close()
}

var _ Backend = (*Resilient)(nil)
