package admission

import (
	"context"

	"github.com/serroba/admission-go/internal/decision"
	"go.uber.org/zap"
)

// LogObserver logs rejections and store failures.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a new logging observer.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnDecision(_ context.Context, event decision.Event) {
	d := event.Decision

	switch {
	case d.Degraded && !d.Allowed:
		o.logger.Warn("admission rejected: state store unavailable",
			zap.String("mode", string(event.Mode)),
			zap.String("policy", event.Policy),
			zap.String("key", event.Key),
		)
	case d.Degraded:
		o.logger.Info("admission allowed without state store",
			zap.String("mode", string(event.Mode)),
			zap.String("policy", event.Policy),
			zap.String("key", event.Key),
		)
	case !d.Allowed:
		o.logger.Debug("admission rejected",
			zap.String("mode", string(event.Mode)),
			zap.String("policy", event.Policy),
			zap.String("key", event.Key),
			zap.String("reason", string(d.Reason)),
		)
	}
}

func (o *LogObserver) OnBackendFailure(_ context.Context, op string, err error) {
	o.logger.Warn("state store failure", zap.String("operation", op), zap.Error(err))
}

// MetricsObserver counts decisions and store failures in Prometheus.
type MetricsObserver struct{}

func (MetricsObserver) OnDecision(_ context.Context, event decision.Event) {
	decisionsTotal.WithLabelValues(
		string(event.Mode),
		event.Policy,
		outcome(event.Decision.Allowed, event.Decision.Degraded),
		string(event.Decision.Reason),
	).Inc()
}

func (MetricsObserver) OnBackendFailure(_ context.Context, op string, _ error) {
	backendFailuresTotal.WithLabelValues(op).Inc()
}

var (
	_ decision.Observer = (*LogObserver)(nil)
	_ decision.Observer = MetricsObserver{}
)
