package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/requestmeta"
	"go.uber.org/zap"
)

// Publisher publishes admission events. It owns the underlying publisher.
type Publisher struct {
	publisher message.Publisher
	topic     string
}

// NewPublisher creates a new audit publisher.
func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{publisher: publisher, topic: TopicAdmissionDecided}
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, event *AdmissionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal admission event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("policy", event.Policy)
	msg.Metadata.Set("mode", event.Mode)

	return p.publisher.Publish(p.topic, msg)
}

// Shutdown closes the underlying publisher.
func (p *Publisher) Shutdown() error {
	return p.publisher.Close()
}

// DefaultPublishTimeout bounds how long a decision waits on its audit event.
const DefaultPublishTimeout = 250 * time.Millisecond

// Observer publishes every admission decision. Publishing is best effort:
// a failure is logged and never affects the decision.
type Observer struct {
	publisher *Publisher
	logger    *zap.Logger
	timeout   time.Duration
}

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(timeout time.Duration) ObserverOption {
	return func(o *Observer) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// NewObserver creates a decision observer backed by publisher.
func NewObserver(publisher *Publisher, logger *zap.Logger, opts ...ObserverOption) *Observer {
	o := &Observer{publisher: publisher, logger: logger, timeout: DefaultPublishTimeout}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *Observer) OnDecision(ctx context.Context, event decision.Event) {
	meta := requestmeta.FromContext(ctx)

	auditEvent := &AdmissionEvent{
		ID:        uuid.NewString(),
		Policy:    event.Policy,
		Mode:      string(event.Mode),
		Key:       event.Key,
		Allowed:   event.Decision.Allowed,
		Reason:    string(event.Decision.Reason),
		Degraded:  event.Decision.Degraded,
		RequestID: meta.RequestID,
		ClientIP:  meta.ClientIP,
		At:        event.At,
	}

	// The event outlives the caller's cancellation but not the timeout.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	if err := o.publisher.Publish(publishCtx, auditEvent); err != nil {
		o.logger.Warn("failed to publish admission event",
			zap.String("policy", event.Policy),
			zap.String("key", event.Key),
			zap.Error(err),
		)
	}
}

// OnBackendFailure is a no-op; store failures are counted by the metrics observer.
func (o *Observer) OnBackendFailure(context.Context, string, error) {}

var _ decision.Observer = (*Observer)(nil)
