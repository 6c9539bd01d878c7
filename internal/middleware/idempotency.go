package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"
)

// HeaderIdempotencyKey carries the client-chosen key of a retried request.
const HeaderIdempotencyKey = "Idempotency-Key"

const releaseTimeout = time.Second

// Idempotency returns a huma middleware that admits a request carrying an
// Idempotency-Key at most once per lease. It applies only to endpoints whose
// EndpointConfig names an idempotency policy. The lease is released after a
// server error so the client can retry, and after every response when the
// policy deletes leases after execution.
func Idempotency(
	api huma.API,
	gateway Admitter,
	policies PolicyLookup,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		cfg := GetEndpointConfig(ctx)
		if cfg == nil || cfg.IdempotencyPolicy == "" {
			next(ctx)

			return
		}

		idempotencyKey := ctx.Header(HeaderIdempotencyKey)
		if idempotencyKey == "" {
			next(ctx)

			return
		}

		policy, err := policies.Get(cfg.IdempotencyPolicy)
		if err != nil {
			logger.Error("idempotency policy lookup failed",
				zap.String("policy", cfg.IdempotencyPolicy), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		req := policy.Request(operationName(ctx), metaOf(ctx).ClientKey(), idempotencyKey)

		d, err := gateway.Admit(ctx.Context(), req)
		if err != nil {
			logger.Error("idempotency check failed", zap.Error(err))
			_ = huma.WriteErr(api, ctx, ErrorStatus(err), "idempotency check failed", err)

			return
		}

		if !d.Allowed {
			_ = huma.WriteErr(api, ctx, RejectionStatus(d), "idempotency: "+d.String())

			return
		}

		next(ctx)

		if d.Degraded || (!policy.DeleteAfterExecution && ctx.Status() < http.StatusInternalServerError) {
			return
		}

		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx.Context()), releaseTimeout)
		defer cancel()

		if _, err := gateway.Release(releaseCtx, req); err != nil {
			logger.Warn("idempotency lease release failed",
				zap.String("policy", policy.Name), zap.Error(err))
		}
	}
}
