// Package ratelimit admits calls within a bounded rate using either a shared
// fixed-window counter or a process-local token bucket.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/admission-go/internal/decision"
)

// Algorithm selects how the rate is enforced.
type Algorithm string

const (
	// AlgorithmFixedWindow counts calls in the shared store. A burst at a
	// window boundary can admit up to twice the limit across the boundary.
	AlgorithmFixedWindow Algorithm = "fixed-window"
	// AlgorithmTokenBucket refills continuously and never touches the shared
	// store. State belongs to the current process.
	AlgorithmTokenBucket Algorithm = "token-bucket"
)

var ErrInvalidLimit = errors.New("limit and window must be positive")

// ParseAlgorithm parses a configured algorithm name. Empty means fixed window.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", AlgorithmFixedWindow:
		return AlgorithmFixedWindow, nil
	case AlgorithmTokenBucket:
		return AlgorithmTokenBucket, nil
	default:
		return "", fmt.Errorf("unknown rate limit algorithm %q", s)
	}
}

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// TryAcquire admits one call for key if fewer than limit calls were
	// admitted in the current window. Store failures are turned into a
	// decision; the error is reserved for invalid arguments and the caller's
	// own context ending.
	TryAcquire(ctx context.Context, key string, limit int64, window time.Duration) (decision.Decision, error)
}

func validate(limit int64, window time.Duration) error {
	if limit <= 0 || window < time.Millisecond {
		return fmt.Errorf("%w: limit=%d window=%s", ErrInvalidLimit, limit, window)
	}

	return nil
}
