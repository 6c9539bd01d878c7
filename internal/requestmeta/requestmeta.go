// Package requestmeta carries per-request client metadata through the
// context, so that key construction and audit events can be scoped to the
// caller without ambient state.
package requestmeta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
)

// HeaderRequestID is read from the request, or generated when absent.
const HeaderRequestID = "X-Request-ID"

// Meta contains request metadata for auditing and client keys.
type Meta struct {
	RequestID string
	ClientIP  string
	UserAgent string
	Referrer  string
}

type metaKey struct{}

// WithMeta adds request metadata to ctx.
func WithMeta(ctx context.Context, meta Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// FromContext extracts request metadata from ctx.
func FromContext(ctx context.Context) Meta {
	if v, ok := ctx.Value(metaKey{}).(Meta); ok {
		return v
	}

	return Meta{}
}

// Extract reads the metadata of the request behind ctx.
func Extract(ctx huma.Context) Meta {
	requestID := ctx.Header(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return Meta{
		RequestID: requestID,
		ClientIP:  ClientIP(ctx),
		UserAgent: ctx.Header("User-Agent"),
		Referrer:  ctx.Header("Referer"),
	}
}

// ClientKey identifies a client by IP and User-Agent without storing either.
func (m Meta) ClientKey() string {
	hash := sha256.Sum256([]byte(m.ClientIP + "|" + m.UserAgent))

	return hex.EncodeToString(hash[:])
}

// ClientIP extracts the client IP from the request, considering proxies.
func ClientIP(ctx huma.Context) string {
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return xri
	}

	addr := ctx.RemoteAddr()
	if addr == "" {
		addr = ctx.Host()
	}

	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return ip
}
