package container

import (
	"context"
	"time"

	"github.com/samber/do"
	"github.com/serroba/admission-go/internal/admission"
	"github.com/serroba/admission-go/internal/audit"
	"github.com/serroba/admission-go/internal/config"
	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/idempotency"
	"github.com/serroba/admission-go/internal/keys"
	"github.com/serroba/admission-go/internal/ratelimit"
	"github.com/serroba/admission-go/internal/store"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const breakerOpenTimeout = 5 * time.Second

// StorePackage provides the admission state backend selected by the
// backend option.
func StorePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*store.MemoryStore, error) {
		options := do.MustInvoke[*config.Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		mem := store.NewMemoryStore(
			store.WithSweepInterval(options.SweepInterval()),
			store.WithMemoryLogger(logger),
		)
		mem.Start(context.Background())

		return mem, nil
	})

	do.Provide(injector, func(i *do.Injector) (*store.Resilient, error) {
		options := do.MustInvoke[*config.Options](i)
		client := do.MustInvoke[*RedisClient](i)

		return store.NewResilient(store.NewRedisStore(client.Client), &store.ResilientConfig{
			Name:                "redis",
			Timeout:             options.StoreTimeout(),
			ConsecutiveFailures: uint32(options.BreakerFailures),
			OpenTimeout:         breakerOpenTimeout,
			Logger:              do.MustInvoke[*zap.Logger](i),
		}), nil
	})

	do.Provide(injector, func(i *do.Injector) (store.Backend, error) {
		options := do.MustInvoke[*config.Options](i)

		if config.Backend(options.Backend) == config.BackendLocal {
			return do.MustInvoke[*store.MemoryStore](i), nil
		}

		return do.MustInvoke[*store.Resilient](i), nil
	})
}

// AdmissionPackage provides the guard, the limiters, the gateway and the
// named policies.
func AdmissionPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (decision.Observer, error) {
		options := do.MustInvoke[*config.Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		observers := decision.Observers{
			admission.NewLogObserver(logger),
			admission.MetricsObserver{},
		}

		if options.Audit {
			observers = append(observers, do.MustInvoke[*audit.Observer](i))
		}

		return observers, nil
	})

	do.Provide(injector, func(i *do.Injector) (*idempotency.Guard, error) {
		options := do.MustInvoke[*config.Options](i)

		return idempotency.NewGuard(do.MustInvoke[store.Backend](i),
			idempotency.WithFailurePolicy(options.Policy()),
			idempotency.WithObserver(do.MustInvoke[decision.Observer](i)),
			idempotency.WithLogger(do.MustInvoke[*zap.Logger](i)),
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (*ratelimit.TokenBucketLimiter, error) {
		options := do.MustInvoke[*config.Options](i)

		limiter := ratelimit.NewTokenBucketLimiter(
			ratelimit.WithJanitorPeriod(options.SweepInterval()),
			ratelimit.WithBucketLogger(do.MustInvoke[*zap.Logger](i)),
		)
		limiter.Start(context.Background())

		return limiter, nil
	})

	do.Provide(injector, func(i *do.Injector) (*ratelimit.FixedWindowLimiter, error) {
		options := do.MustInvoke[*config.Options](i)

		return ratelimit.NewFixedWindowLimiter(do.MustInvoke[store.Backend](i),
			ratelimit.WithFailurePolicy(options.Policy()),
			ratelimit.WithObserver(do.MustInvoke[decision.Observer](i)),
			ratelimit.WithLogger(do.MustInvoke[*zap.Logger](i)),
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (*admission.Gateway, error) {
		return admission.NewGateway(do.MustInvoke[*idempotency.Guard](i),
			admission.WithLimiter(ratelimit.AlgorithmFixedWindow, do.MustInvoke[*ratelimit.FixedWindowLimiter](i)),
			admission.WithLimiter(ratelimit.AlgorithmTokenBucket, do.MustInvoke[*ratelimit.TokenBucketLimiter](i)),
			admission.WithObserver(do.MustInvoke[decision.Observer](i)),
			admission.WithTracerProvider(otel.GetTracerProvider()),
			admission.WithLogger(do.MustInvoke[*zap.Logger](i)),
		), nil
	})

	do.Provide(injector, func(_ *do.Injector) (*keys.Registry, error) {
		return keys.NewRegistry(), nil
	})

	do.Provide(injector, func(i *do.Injector) (*config.Policies, error) {
		options := do.MustInvoke[*config.Options](i)

		return config.LoadPolicies(options.Policies, options, do.MustInvoke[*keys.Registry](i))
	})
}
