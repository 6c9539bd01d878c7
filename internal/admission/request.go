// Package admission is the single entry point used by call sites: it builds
// the key for a request and dispatches it to the idempotency guard or to a
// rate limiter.
package admission

import (
	"errors"
	"fmt"
	"time"

	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/keys"
	"github.com/serroba/admission-go/internal/ratelimit"
)

var (
	ErrInvalidRequest = errors.New("invalid admission request")
	ErrUnsupported    = errors.New("operation not supported for mode")
)

// Request describes one admission check.
type Request struct {
	// Policy names the configuration the request came from. Informational.
	Policy string
	Mode   decision.Mode

	Prefix string
	Parts  []string
	// HashParts stores a digest of the parts instead of the parts themselves.
	HashParts bool

	// Idempotency parameters.
	TTL                  time.Duration
	DeleteAfterExecution bool

	// Rate limit parameters.
	Limit     int64
	Window    time.Duration
	Algorithm ratelimit.Algorithm
}

// Validate reports whether the request can be admitted.
func (r Request) Validate() error {
	if r.Prefix == "" {
		return fmt.Errorf("%w: empty prefix", ErrInvalidRequest)
	}

	if len(r.Parts) == 0 {
		return fmt.Errorf("%w: no key parts", ErrInvalidRequest)
	}

	switch r.Mode {
	case decision.ModeIdempotency:
		if r.TTL <= 0 {
			return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidRequest, r.TTL)
		}
	case decision.ModeRateLimit:
		if r.Limit <= 0 {
			return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, r.Limit)
		}

		if r.Window <= 0 {
			return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidRequest, r.Window)
		}

		if _, err := ratelimit.ParseAlgorithm(string(r.Algorithm)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}

	return nil
}

// Key returns the store key for the request.
func (r Request) Key() (string, error) {
	if r.HashParts {
		return keys.BuildHashed(r.Prefix, r.Parts...)
	}

	return keys.Build(r.Prefix, r.Parts...)
}

// WithParts returns a copy of r keyed by parts.
func (r Request) WithParts(parts ...string) Request {
	r.Parts = append([]string(nil), parts...)

	return r
}
