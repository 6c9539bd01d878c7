package decision

import (
	"context"
	"time"
)

// Event describes one admission decision for observers.
type Event struct {
	Mode     Mode
	Policy   string
	Key      string
	Decision Decision
	At       time.Time
}

// Observer receives admission outcomes and store failures. Implementations
// must be safe for concurrent use and must not block the caller for long.
type Observer interface {
	OnDecision(ctx context.Context, event Event)
	OnBackendFailure(ctx context.Context, op string, err error)
}

// Nop is an Observer that ignores everything.
type Nop struct{}

func (Nop) OnDecision(context.Context, Event)                {}
func (Nop) OnBackendFailure(context.Context, string, error) {}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) OnDecision(ctx context.Context, event Event) {
	for _, obs := range o {
		obs.OnDecision(ctx, event)
	}
}

func (o Observers) OnBackendFailure(ctx context.Context, op string, err error) {
	for _, obs := range o {
		obs.OnBackendFailure(ctx, op, err)
	}
}
