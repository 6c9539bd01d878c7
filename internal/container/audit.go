package container

import (
	"context"

	"github.com/samber/do"
	"github.com/serroba/admission-go/internal/audit"
	"github.com/serroba/admission-go/internal/config"
	"go.uber.org/zap"
)

// PublisherPackage provides the audit publisher and its decision observer.
func PublisherPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*audit.Publisher, error) {
		client := do.MustInvoke[*RedisClient](i)
		logger := do.MustInvoke[*zap.Logger](i)

		publisher, err := audit.NewRedisPublisher(client.Client, logger)
		if err != nil {
			return nil, err
		}

		return audit.NewPublisher(publisher), nil
	})

	do.Provide(injector, func(i *do.Injector) (*audit.Observer, error) {
		return audit.NewObserver(
			do.MustInvoke[*audit.Publisher](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// ConsumerGroupPackage provides the audit consumers. Events go to Postgres
// when a database URL is configured and to the log otherwise.
func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (audit.Store, error) {
		options := do.MustInvoke[*config.Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if options.DatabaseURL == "" {
			return audit.NewLogStore(logger), nil
		}

		pg := audit.NewPostgresStore(do.MustInvoke[*PostgresPool](i).Pool)
		if err := pg.Migrate(context.Background()); err != nil {
			return nil, err
		}

		return pg, nil
	})

	do.Provide(injector, func(i *do.Injector) (*audit.Group, error) {
		client := do.MustInvoke[*RedisClient](i)
		logger := do.MustInvoke[*zap.Logger](i)

		subscriber, err := audit.NewRedisSubscriber(client.Client, audit.DefaultConsumerGroup, logger)
		if err != nil {
			return nil, err
		}

		group := audit.NewGroup(subscriber, logger)
		group.Add(audit.NewConsumer(subscriber, audit.SaveTo(do.MustInvoke[audit.Store](i)), logger))

		return group, nil
	})
}
