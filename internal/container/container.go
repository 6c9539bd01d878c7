// Package container wires the service with samber/do. Each *Package function
// registers the providers of one concern; services are built lazily on first
// invoke and shut down in reverse order by the injector.
package container

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/admission-go/internal/config"
	"go.uber.org/zap"
)

// RedisClient owns the shared Redis connection pool.
type RedisClient struct {
	Client redis.UniversalClient
}

// Shutdown closes the pool.
func (c *RedisClient) Shutdown() error {
	return c.Client.Close()
}

// PostgresPool owns the audit database pool.
type PostgresPool struct {
	*pgxpool.Pool
}

// Shutdown closes the pool.
func (p *PostgresPool) Shutdown() error {
	p.Close()

	return nil
}

// LoggerPackage provides the zap logger selected by the log format.
func LoggerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*zap.Logger, error) {
		options := do.MustInvoke[*config.Options](i)

		if config.LogFormat(options.LogFormat) == config.LogFormatJSON {
			return zap.NewProduction()
		}

		return zap.NewDevelopment()
	})
}

// RedisPackage provides the shared Redis client.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*RedisClient, error) {
		options := do.MustInvoke[*config.Options](i)

		client := redis.NewClient(&redis.Options{
			Addr:                  options.RedisAddr,
			ContextTimeoutEnabled: true,
		})

		return &RedisClient{Client: client}, nil
	})
}

// PostgresPackage provides the audit database pool.
func PostgresPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*PostgresPool, error) {
		options := do.MustInvoke[*config.Options](i)
		if options.DatabaseURL == "" {
			return nil, fmt.Errorf("%w: database url is empty", config.ErrInvalidConfiguration)
		}

		pool, err := pgxpool.New(context.Background(), options.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		return &PostgresPool{Pool: pool}, nil
	})
}
