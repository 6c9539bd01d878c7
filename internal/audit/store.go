package audit

import (
	"context"

	"go.uber.org/zap"
)

// Store persists admission events.
type Store interface {
	SaveAdmission(ctx context.Context, event *AdmissionEvent) error
}

// LogStore is a Store that only logs events. It is used when no database is
// configured.
type LogStore struct {
	logger *zap.Logger
}

// NewLogStore creates a new logging store.
func NewLogStore(logger *zap.Logger) *LogStore {
	return &LogStore{logger: logger}
}

func (s *LogStore) SaveAdmission(_ context.Context, event *AdmissionEvent) error {
	s.logger.Info("admission event received",
		zap.String("id", event.ID),
		zap.String("policy", event.Policy),
		zap.String("mode", event.Mode),
		zap.Bool("allowed", event.Allowed),
		zap.String("reason", event.Reason),
		zap.Bool("degraded", event.Degraded),
		zap.Time("at", event.At),
	)

	return nil
}
