package audit

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Runnable is a component with a start and stop lifecycle.
type Runnable interface {
	Start(ctx context.Context) error
	Shutdown() error
}

// Group starts and stops a set of consumers together and closes the shared
// subscriber last.
type Group struct {
	members    []Runnable
	subscriber io.Closer
	logger     *zap.Logger
}

// NewGroup creates an empty group owning subscriber.
func NewGroup(subscriber io.Closer, logger *zap.Logger) *Group {
	return &Group{subscriber: subscriber, logger: logger}
}

// Add registers a member.
func (g *Group) Add(member Runnable) {
	g.members = append(g.members, member)
}

// Start starts every member in order. If one fails, the ones already started
// are shut down in reverse order.
func (g *Group) Start(ctx context.Context) error {
	for i, member := range g.members {
		if err := member.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = g.members[j].Shutdown()
			}

			return fmt.Errorf("start audit consumer %d: %w", i, err)
		}
	}

	g.logger.Info("audit consumers started", zap.Int("count", len(g.members)))

	return nil
}

// Shutdown stops every member, then closes the subscriber.
func (g *Group) Shutdown() error {
	g.logger.Info("shutting down audit consumers")

	var errs []error

	for _, member := range g.members {
		if err := member.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}

	if g.subscriber != nil {
		if err := g.subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
