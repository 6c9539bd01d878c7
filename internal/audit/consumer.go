package audit

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var consumedMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admission_audit_messages_total",
		Help: "Audit messages handled by the consumer, by status.",
	},
	[]string{"status"},
)

// Handler processes one decoded admission event.
type Handler func(ctx context.Context, event *AdmissionEvent) error

// SaveTo returns a Handler persisting every event into store.
func SaveTo(store Store) Handler {
	return store.SaveAdmission
}

// Consumer reads admission events from a topic. A message is acked once
// handled and nacked for redelivery when decoding or handling fails.
type Consumer struct {
	subscriber message.Subscriber
	topic      string
	handler    Handler
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewConsumer creates a consumer of TopicAdmissionDecided.
func NewConsumer(subscriber message.Subscriber, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		topic:      TopicAdmissionDecided,
		handler:    handler,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Topic returns the subscribed topic.
func (c *Consumer) Topic() string {
	return c.topic
}

// Start subscribes and processes messages in the background until ctx ends
// or Shutdown is called.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	msgs, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		c.cancel()
		close(c.done)

		return err
	}

	go c.run(ctx, msgs)

	return nil
}

func (c *Consumer) run(ctx context.Context, msgs <-chan *message.Message) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	var event AdmissionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error("failed to decode admission event",
			zap.String("message_id", msg.UUID),
			zap.Error(err),
		)
		consumedMessages.WithLabelValues("malformed").Inc()
		msg.Nack()

		return
	}

	if err := c.handler(ctx, &event); err != nil {
		c.logger.Error("failed to handle admission event",
			zap.String("event_id", event.ID),
			zap.String("policy", event.Policy),
			zap.Error(err),
		)
		consumedMessages.WithLabelValues("error").Inc()
		msg.Nack()

		return
	}

	msg.Ack()
	consumedMessages.WithLabelValues("ok").Inc()

	c.logger.Debug("admission event processed", zap.String("event_id", event.ID))
}

// Shutdown stops consuming and waits for the in-flight message.
func (c *Consumer) Shutdown() error {
	if c.cancel == nil {
		return nil
	}

	c.cancel()
	<-c.done

	return nil
}
