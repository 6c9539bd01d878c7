package middleware

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission-go/internal/requestmeta"
)

// RequestMeta adds request ID, client IP, user-agent and referrer to the
// request context and echoes the request ID.
func RequestMeta(_ huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		meta := requestmeta.Extract(ctx)

		ctx.SetHeader(requestmeta.HeaderRequestID, meta.RequestID)
		ctx = huma.WithContext(ctx, requestmeta.WithMeta(ctx.Context(), meta))

		next(ctx)
	}
}
