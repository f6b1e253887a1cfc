package bus

import (
	"context"

	"go.uber.org/zap"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *zap.Logger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *zap.Logger) *NullBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NullBus{logger: logger.Named("nullbus")}
}

// Close is a no-op for null bus
func (nb *NullBus) Close() error {
	return nil
}

// PublishResult logs the result but doesn't actually publish it
func (nb *NullBus) PublishResult(ctx context.Context, msg ResultMessage) error {
	nb.logger.Debug("would publish result (Redis disabled)",
		zap.String("service", msg.Service),
		zap.String("value", msg.Record.Value))
	return nil
}

// ReadResults blocks until the context is cancelled
func (nb *NullBus) ReadResults(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg ResultMessage) error) error {
	nb.logger.Info("results feed unavailable (Redis disabled)", zap.String("group", group), zap.String("consumer", consumer))
	<-ctx.Done()
	return ctx.Err()
}

// GetStats returns empty stats for null bus
func (nb *NullBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null bus
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}
