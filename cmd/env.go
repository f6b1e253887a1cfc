package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/app"
	"github.com/Ashfaaq98/ioc-console/internal/bus"
	"github.com/Ashfaaq98/ioc-console/internal/logging"
	"github.com/Ashfaaq98/ioc-console/internal/store"
)

// env bundles the long-lived pieces every command needs.
type env struct {
	cfg     Config
	logger  *zap.Logger
	kv      store.KV
	feed    bus.Bus
	session *app.Session
}

// newLogger logs to stderr for headless commands and to the rotating log
// file when the TUI owns the terminal.
func newLogger(cfg Config, tui bool) (*zap.Logger, error) {
	opts := logging.Options{Level: cfg.Log.Level}
	if tui {
		opts.File = resolvePathRelativeToBase(getWorkingDir(), cfg.Log.File)
	} else {
		opts.Console = true
	}
	return logging.New(opts)
}

// openEnv opens the store and results feed, then builds and initializes
// the session.
func openEnv(ctx context.Context, tui bool) (*env, error) {
	cfg := GetConfig()
	logger, err := newLogger(cfg, tui)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	kv, err := store.Open(ctx, store.Options{
		Path:     resolvePathRelativeToBase(getWorkingDir(), cfg.Store.Path),
		RedisURL: cfg.Redis.URL,
	}, logger.Named("store"))
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	feed := bus.NewBus(cfg.Redis.URL, logger.Named("bus"))

	session := app.New(app.Options{
		Store:      kv,
		Publisher:  feed,
		AllCapable: cfg.Dispatch.AllCapable,
		MaxJobs:    cfg.Dispatch.MaxJobs,
		Timeout:    cfg.API.Timeout,
		Insecure:   cfg.API.Insecure,
		Logger:     logger,
	})
	rt := &env{cfg: cfg, logger: logger, kv: kv, feed: feed, session: session}
	if err := session.Init(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// drainTimeout bounds how long Close waits for running searches.
const drainTimeout = 5 * time.Second

// Close waits for running searches to persist their history, then releases
// the feed and the store.
func (rt *env) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := rt.session.Drain(ctx); err != nil {
		rt.logger.Warn("closing with searches still running", zap.Error(err))
	}
	if err := rt.feed.Close(); err != nil {
		rt.logger.Warn("closing results feed", zap.Error(err))
	}
	if err := rt.kv.Close(); err != nil {
		rt.logger.Warn("closing store", zap.Error(err))
	}
	rt.logger.Sync()
}

// flushMessages prints and clears the session's pending error log.
func (rt *env) flushMessages() int {
	msgs := rt.session.Aggregator().DrainErrors()
	for _, m := range msgs {
		fmt.Printf("! %s\n", strings.TrimSpace(m))
	}
	return len(msgs)
}
