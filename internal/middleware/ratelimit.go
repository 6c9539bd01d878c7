package middleware

import (
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"
)

// RateLimit returns a huma middleware that admits each request per client
// (IP and User-Agent) and operation. Endpoints may pick a policy or opt out
// through EndpointConfig; all others use defaultPolicy.
func RateLimit(
	api huma.API,
	gateway Admitter,
	policies PolicyLookup,
	defaultPolicy string,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		name := defaultPolicy

		if cfg := GetEndpointConfig(ctx); cfg != nil {
			if cfg.Disabled {
				next(ctx)

				return
			}

			if cfg.RateLimitPolicy != "" {
				name = cfg.RateLimitPolicy
			}
		}

		policy, err := policies.Get(name)
		if err != nil {
			logger.Error("rate limit policy lookup failed", zap.String("policy", name), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		operation := operationName(ctx)
		req := policy.Request(operation, metaOf(ctx).ClientKey())

		d, err := gateway.Admit(ctx.Context(), req)
		if err != nil {
			logger.Error("rate limit check failed", zap.String("operation", operation), zap.Error(err))
			_ = huma.WriteErr(api, ctx, ErrorStatus(err), "rate limit check failed", err)

			return
		}

		if !d.Allowed {
			logger.Debug("rate limit rejected request",
				zap.String("operation", operation),
				zap.String("policy", name),
				zap.String("reason", string(d.Reason)),
			)

			if status := RejectionStatus(d); status == http.StatusTooManyRequests {
				ctx.SetHeader("Retry-After", strconv.Itoa(int(policy.Window.Seconds())))
			}

			_ = huma.WriteErr(api, ctx, RejectionStatus(d), "rate limit: "+d.String())

			return
		}

		next(ctx)
	}
}
