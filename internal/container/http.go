package container

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
	"github.com/serroba/admission-go/internal/admission"
	"github.com/serroba/admission-go/internal/config"
	"github.com/serroba/admission-go/internal/handlers"
	"github.com/serroba/admission-go/internal/health"
	"github.com/serroba/admission-go/internal/idempotency"
	"github.com/serroba/admission-go/internal/middleware"
	"go.uber.org/zap"
)

// HTTPPackage provides the router and the huma API with every route
// registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*chi.Mux, error) {
		router := chi.NewMux()
		router.Handle("/metrics", promhttp.Handler())

		return router, nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)
		options := do.MustInvoke[*config.Options](i)
		gateway := do.MustInvoke[*admission.Gateway](i)
		policies := do.MustInvoke[*config.Policies](i)

		api := humachi.New(router, huma.DefaultConfig("Admission Service", "1.0.0"))
		api.UseMiddleware(
			middleware.RequestMeta(api),
			middleware.RateLimit(api, gateway, policies, config.DefaultRateLimitPolicy, logger),
			middleware.Idempotency(api, gateway, policies, logger),
		)

		handlers.RegisterRoutes(api,
			handlers.NewAdmissionHandler(gateway, policies, logger),
			handlers.NewTokenHandler(do.MustInvoke[*idempotency.Guard](i), logger),
		)

		checkers := map[string]health.Checker{}
		if config.Backend(options.Backend) == config.BackendShared {
			checkers["redis"] = health.NewRedisChecker(do.MustInvoke[*RedisClient](i).Client)
		}

		health.RegisterRoutes(api, health.NewHandler(checkers), func(o *huma.Operation) {
			o.Metadata = map[string]any{
				middleware.MetadataKey: middleware.EndpointConfig{Disabled: true},
			}
		})

		return api, nil
	})
}
