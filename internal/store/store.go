// Package store persists the session's configuration and history as JSON
// values under a handful of well-known keys.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/results"
)

// Well-known keys.
const (
	KeyAPIURL  = "apiUrl"
	KeyUser    = "user"
	KeyHistory = "history"
)

// KV is a JSON key-value store.
type KV interface {
	// Get decodes the value under key into dst. It reports false when the
	// key is absent.
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	// Set stores v under key, replacing any previous value.
	Set(ctx context.Context, key string, v interface{}) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures the backend.
type Options struct {
	// Path is the SQLite database file.
	Path string
	// RedisURL, when set and reachable, takes precedence over Path.
	RedisURL string
}

// Open returns a Redis-backed store when RedisURL is configured and
// reachable, and the SQLite store otherwise.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (KV, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RedisURL != "" {
		rs, err := NewRedisStore(ctx, opts.RedisURL)
		if err == nil {
			logger.Info("using redis store", zap.String("url", redactURL(opts.RedisURL)))
			return rs, nil
		}
		logger.Warn("redis store unavailable, falling back to sqlite", zap.Error(err))
	}

	s, err := NewStore(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	logger.Debug("using sqlite store", zap.String("path", opts.Path))
	return s, nil
}

// HistorySink adapts a KV to results.HistorySink.
type HistorySink struct {
	KV KV
}

// SaveHistory stores records under KeyHistory.
func (h HistorySink) SaveHistory(ctx context.Context, records []results.Record) error {
	if records == nil {
		records = []results.Record{}
	}
	return h.KV.Set(ctx, KeyHistory, records)
}

// LoadHistory reads the persisted history. A missing key yields no records.
func LoadHistory(ctx context.Context, kv KV) ([]results.Record, error) {
	var records []results.Record
	if _, err := kv.Get(ctx, KeyHistory, &records); err != nil {
		return nil, err
	}
	return records, nil
}
