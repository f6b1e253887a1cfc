package bus

import (
	"context"

	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/results"
)

// ResultsStream is the stream every accepted lookup result is published to.
const ResultsStream = "ioc:results"

// ResultMessage is one lookup result as published on the results stream.
type ResultMessage struct {
	Epoch     string         `json:"epoch"`
	Service   string         `json:"service"`
	Kind      string         `json:"kind"`
	Record    results.Record `json:"record"`
	Timestamp int64          `json:"timestamp"`
}

// Bus defines the interface for results feed implementations
type Bus interface {
	// PublishResult publishes a lookup result to the results stream
	PublishResult(ctx context.Context, msg ResultMessage) error

	// ReadResults tails the results stream as a member of group
	ReadResults(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg ResultMessage) error) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// NewBus creates a new bus instance based on the Redis URL
// If redisURL is empty or Redis is unreachable, returns a NullBus
func NewBus(redisURL string, logger *zap.Logger) Bus {
	if logger == nil {
		logger = zap.NewNop()
	}

	if redisURL == "" {
		return NewNullBus(logger)
	}

	redisBus, err := NewRedisBus(redisURL, logger)
	if err == nil {
		return redisBus
	}

	logger.Warn("results feed disabled, falling back to null bus", zap.Error(err))
	return NewNullBus(logger)
}
