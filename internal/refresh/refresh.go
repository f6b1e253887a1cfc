// Package refresh keeps a presenter in step with an Aggregator: it renders the
// status line on every tick and the result view only when the results change.
package refresh

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/results"
)

// Level classifies the status line.
type Level string

const (
	LevelError   Level = "error"
	LevelJobs    Level = "jobs"
	LevelNominal Level = "nominal"
)

// NominalText is shown when there are no errors and no running jobs.
const NominalText = "System nominal"

// Status is one rendering of the status line.
type Status struct {
	Level    Level
	Text     string
	Messages []string
}

// Presenter renders engine state.
type Presenter interface {
	ShowStatus(Status)
	ShowResults([]results.Record)
}

// Options tunes a Loop.
type Options struct {
	// Heartbeat forces a tick at this interval. Defaults to one second.
	Heartbeat time.Duration
	// ErrorHold keeps an error status on screen at least this long before a
	// later tick may replace it. Zero replaces it on the next tick.
	ErrorHold time.Duration
}

// Loop drives a Presenter from an Aggregator.
type Loop struct {
	agg    *results.Aggregator
	view   Presenter
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	// render orders presenter calls between concurrent ticks. Reset never
	// takes it.
	render sync.Mutex

	mu        sync.Mutex
	lastEpoch results.Epoch
	last      []results.Record
	errorAt   time.Time
}

// NewLoop creates a Loop.
func NewLoop(agg *results.Aggregator, view Presenter, opts Options, logger *zap.Logger) *Loop {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{agg: agg, view: view, opts: opts, logger: logger.Named("refresh"), now: time.Now}
}

// Tick renders the status line, then re-renders the results if they differ
// from the last rendered snapshot. It returns the computed status.
//
// The presenter is called without holding the loop's lock, so a presenter
// that waits on an event loop never blocks Reset.
func (l *Loop) Tick() Status {
	l.render.Lock()
	defer l.render.Unlock()

	l.mu.Lock()
	st := l.status()
	showStatus := true
	switch {
	case st.Level == LevelError:
		l.errorAt = l.now()
	case l.opts.ErrorHold > 0 && !l.errorAt.IsZero() && l.now().Sub(l.errorAt) < l.opts.ErrorHold:
		showStatus = false
	default:
		l.errorAt = time.Time{}
	}

	var sorted []results.Record
	epoch, snap := l.agg.Snapshot()
	if len(snap) > 0 && (epoch != l.lastEpoch || !slices.Equal(snap, l.last)) {
		l.lastEpoch = epoch
		l.last = snap
		sorted = results.SortForDisplay(snap)
	}
	l.mu.Unlock()

	if showStatus {
		l.view.ShowStatus(st)
	}
	if sorted != nil {
		l.view.ShowResults(sorted)
	}
	return st
}

func (l *Loop) status() Status {
	if errs := l.agg.DrainErrors(); len(errs) > 0 {
		return Status{Level: LevelError, Text: strings.Join(errs, "; "), Messages: errs}
	}
	if n := l.agg.Outstanding(); n > 0 {
		return Status{Level: LevelJobs, Text: fmt.Sprintf("Jobs remaining: %d", n)}
	}
	return Status{Level: LevelNominal, Text: NominalText}
}

// Reset forgets the rendered snapshot so the next non-empty result set is
// rendered even if it equals the previous one.
func (l *Loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = nil
	l.lastEpoch = ""
}

// Run ticks on every aggregator change and on the heartbeat until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.Heartbeat)
	defer ticker.Stop()

	l.Tick()
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("refresh loop stopped")
			return ctx.Err()
		case <-l.agg.Changes():
			l.Tick()
		case <-ticker.C:
			l.Tick()
		}
	}
}
