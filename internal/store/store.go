// Package store provides the shared state behind admission decisions: a lease
// store with conditional set, delete and exists, and a windowed counter.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackendUnavailable is returned when the state store could not be
	// consulted: timeout, connection failure or an open circuit.
	ErrBackendUnavailable = errors.New("state store unavailable")

	ErrInvalidTTL = errors.New("ttl must be positive")
)

// LeaseStore defines the lease primitives. Every method is a single atomic
// operation on the backing store.
type LeaseStore interface {
	// TryAcquire sets key with expiry ttl only if it does not exist and
	// reports whether the set happened.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release deletes key whatever its value and reports whether a key was removed.
	Release(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present without mutating it.
	Exists(ctx context.Context, key string) (bool, error)
}

// WindowCounter defines the fixed-window counter primitive.
type WindowCounter interface {
	// IncrementWithWindow increments the counter for key, starting a window
	// of the given length on the first increment, and reports whether the
	// post-increment count is within limit.
	IncrementWithWindow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// Backend is a complete state store.
type Backend interface {
	LeaseStore
	WindowCounter
	Close() error
}

// FailurePolicy decides the outcome of an admission check when the shared
// store cannot be consulted.
type FailurePolicy string

const (
	// FailOpen admits the call and logs the failure.
	FailOpen FailurePolicy = "fail-open"
	// FailClosed rejects the call with reason backend-unavailable.
	FailClosed FailurePolicy = "fail-closed"
)

// ParseFailurePolicy parses a configured policy name. Empty means FailOpen.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Admits reports whether a call is admitted when the store is unavailable.
func (p FailurePolicy) Admits() bool {
	return p != FailClosed
}

// Redis expiries have millisecond resolution, so shorter durations are
// rejected on every backend.
func validTTL(ttl time.Duration) error {
	if ttl < time.Millisecond {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}

	return nil
}
