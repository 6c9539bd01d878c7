// Package middleware applies admission control to huma operations.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission-go/internal/admission"
	"github.com/serroba/admission-go/internal/config"
	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/requestmeta"
)

// MetadataKey is the key used to store admission config in operation metadata.
const MetadataKey = "admission"

// EndpointConfig defines per-endpoint admission configuration. It is attached
// to huma operations via the Metadata field.
type EndpointConfig struct {
	// RateLimitPolicy overrides the default rate limit policy of the endpoint.
	RateLimitPolicy string

	// IdempotencyPolicy enables Idempotency-Key handling with the named policy.
	IdempotencyPolicy string

	// Disabled skips rate limiting for the endpoint.
	Disabled bool
}

// Admitter is the part of the admission gateway the middleware needs.
type Admitter interface {
	Admit(ctx context.Context, req admission.Request) (decision.Decision, error)
	Release(ctx context.Context, req admission.Request) (bool, error)
}

// PolicyLookup resolves named policies.
type PolicyLookup interface {
	Get(name string) (config.Policy, error)
}

// GetEndpointConfig extracts the EndpointConfig from operation metadata, if present.
func GetEndpointConfig(ctx huma.Context) *EndpointConfig {
	op := ctx.Operation()
	if op == nil || op.Metadata == nil {
		return nil
	}

	cfg, ok := op.Metadata[MetadataKey].(EndpointConfig)
	if !ok {
		return nil
	}

	return &cfg
}

// RejectionStatus maps a rejected decision to its HTTP status.
func RejectionStatus(d decision.Decision) int {
	switch d.Reason {
	case decision.ReasonDuplicate:
		return http.StatusConflict
	case decision.ReasonRateExceeded:
		return http.StatusTooManyRequests
	case decision.ReasonBackendUnavailable:
		return http.StatusServiceUnavailable
	case decision.ReasonTokenExpired:
		return http.StatusGone
	default:
		return http.StatusForbidden
	}
}

// ErrorStatus maps an admission error to its HTTP status.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, admission.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func operationName(ctx huma.Context) string {
	op := ctx.Operation()
	if op == nil {
		return ctx.Method()
	}

	if op.OperationID != "" {
		return op.OperationID
	}

	return op.Method + " " + op.Path
}

// metaOf returns the request metadata, extracting it when RequestMeta did
// not run first.
func metaOf(ctx huma.Context) requestmeta.Meta {
	meta := requestmeta.FromContext(ctx.Context())
	if meta.RequestID == "" {
		meta = requestmeta.Extract(ctx)
	}

	return meta
}
