package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/results"
)

// maxStreamLen caps the results stream; trimming is approximate.
const maxStreamLen = 10000

// RedisBus provides a Redis Streams-based results feed
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// StreamMessage represents a message in a Redis Stream
type StreamMessage struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// StreamHandler is a function that processes stream messages
type StreamHandler func(ctx context.Context, message StreamMessage) error

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisBus{
		client: client,
		logger: logger.Named("redisbus"),
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// PublishResult publishes a lookup result to the results stream
func (rb *RedisBus) PublishResult(ctx context.Context, msg ResultMessage) error {
	fields, err := encodeResult(msg)
	if err != nil {
		return err
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: ResultsStream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: fields,
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	rb.logger.Debug("published result",
		zap.String("id", result.Val()),
		zap.String("service", msg.Service),
		zap.String("value", msg.Record.Value))
	return nil
}

func encodeResult(msg ResultMessage) (map[string]interface{}, error) {
	record, err := json.Marshal(msg.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result record: %w", err)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	return map[string]interface{}{
		"epoch":     msg.Epoch,
		"service":   msg.Service,
		"kind":      msg.Kind,
		"record":    string(record),
		"timestamp": msg.Timestamp,
	}, nil
}

func decodeResult(message StreamMessage) (ResultMessage, error) {
	msg := ResultMessage{
		Epoch:   message.Fields["epoch"],
		Service: message.Fields["service"],
		Kind:    message.Fields["kind"],
	}
	rec, err := results.DecodeRecord([]byte(message.Fields["record"]))
	if err != nil {
		return msg, fmt.Errorf("message %s: %w", message.ID, err)
	}
	msg.Record = rec
	if ts, err := parseTimestamp(message.Fields["timestamp"]); err == nil {
		msg.Timestamp = ts
	}
	return msg, nil
}

// CreateConsumerGroup creates a consumer group for a stream if it doesn't exist
func (rb *RedisBus) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	result := rb.client.XGroupCreateMkStream(ctx, stream, group, "$")
	if err := result.Err(); err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s for stream %s: %w", group, stream, err)
	}

	rb.logger.Debug("consumer group ready", zap.String("stream", stream), zap.String("group", group))
	return nil
}

// ReadStream reads messages from a stream using consumer groups
func (rb *RedisBus) ReadStream(ctx context.Context, stream, group, consumer string, handler StreamHandler) error {
	if err := rb.CreateConsumerGroup(ctx, stream, group); err != nil {
		return err
	}

	rb.logger.Info("starting stream reader",
		zap.String("stream", stream),
		zap.String("group", group),
		zap.String("consumer", consumer))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    1 * time.Second,
		})
		if err := result.Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rb.logger.Warn("error reading stream", zap.String("stream", stream), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, s := range result.Val() {
			for _, message := range s.Messages {
				streamMsg := StreamMessage{
					ID:     message.ID,
					Fields: make(map[string]string, len(message.Values)),
				}
				for key, value := range message.Values {
					if strValue, ok := value.(string); ok {
						streamMsg.Fields[key] = strValue
					}
				}

				if err := handler(ctx, streamMsg); err != nil {
					rb.logger.Warn("error processing message", zap.String("id", message.ID), zap.Error(err))
					continue
				}

				if err := rb.client.XAck(ctx, s.Stream, group, message.ID).Err(); err != nil {
					rb.logger.Warn("error acknowledging message", zap.String("id", message.ID), zap.Error(err))
				}
			}
		}
	}
}

// ReadResults reads from the results stream
func (rb *RedisBus) ReadResults(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg ResultMessage) error) error {
	return rb.ReadStream(ctx, ResultsStream, group, consumer, func(ctx context.Context, message StreamMessage) error {
		msg, err := decodeResult(message)
		if err != nil {
			return err
		}
		return handler(ctx, msg)
	})
}

// GetStreamInfo returns information about a stream
func (rb *RedisBus) GetStreamInfo(ctx context.Context, stream string) (*redis.XInfoStream, error) {
	result := rb.client.XInfoStream(ctx, stream)
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get stream info for %s: %w", stream, err)
	}
	return result.Val(), nil
}

// parseTimestamp parses epoch seconds, epoch milliseconds or RFC3339
func parseTimestamp(timestamp string) (int64, error) {
	if timestamp == "" {
		return time.Now().Unix(), nil
	}

	if n, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		// 13+ digits are milliseconds
		if n > 1_000_000_000_000 {
			return n / 1000, nil
		}
		return n, nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		return ts.Unix(), nil
	}

	return time.Now().Unix(), fmt.Errorf("unable to parse timestamp: %s", timestamp)
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// GetStats returns basic statistics about the results stream
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"type": "redis"}

	info, err := rb.GetStreamInfo(ctx, ResultsStream)
	if err != nil {
		return stats, err
	}
	stats["results_stream"] = map[string]interface{}{
		"length":         info.Length,
		"first_entry_id": info.FirstEntry.ID,
		"last_entry_id":  info.LastEntry.ID,
		"groups":         info.Groups,
	}
	return stats, nil
}
