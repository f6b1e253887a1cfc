// Package results owns the per-session result set, the bounded history, the
// transient error log and the outstanding-job counter.
package results

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HistoryCap bounds the history buffer. Older entries are evicted first.
const HistoryCap = 50

// Epoch identifies one search. Results carrying an older epoch are stale.
type Epoch string

// HistorySink persists history snapshots.
type HistorySink interface {
	SaveHistory(ctx context.Context, records []Record) error
}

// Aggregator is the shared state of one application session. All methods are
// safe for concurrent use.
type Aggregator struct {
	mu          sync.Mutex
	epoch       Epoch
	results     []Record
	history     []Record
	errs        []string
	outstanding int

	// persistMu orders history writes so the last write carries the
	// newest snapshot.
	persistMu sync.Mutex
	sink      HistorySink
	logger    *zap.Logger
	changes   chan struct{}
}

// NewAggregator creates an empty aggregator. sink may be nil, in which case
// history lives only in memory.
func NewAggregator(sink HistorySink, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		sink:    sink,
		logger:  logger.Named("results"),
		changes: make(chan struct{}, 1),
	}
}

// Changes delivers a coalesced signal after every mutation.
func (a *Aggregator) Changes() <-chan struct{} { return a.changes }

func (a *Aggregator) notify() {
	select {
	case a.changes <- struct{}{}:
	default:
	}
}

// BeginSearch clears the result set and starts a new epoch.
func (a *Aggregator) BeginSearch() Epoch {
	a.mu.Lock()
	a.epoch = Epoch(uuid.NewString())
	a.results = nil
	e := a.epoch
	a.mu.Unlock()

	a.logger.Debug("search started", zap.String("epoch", string(e)))
	a.notify()
	return e
}

// Epoch returns the current search epoch.
func (a *Aggregator) Epoch() Epoch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch
}

// AppendResult adds r to the result set if epoch is still current. It
// reports whether the record was accepted.
func (a *Aggregator) AppendResult(epoch Epoch, r Record) bool {
	a.mu.Lock()
	if epoch != a.epoch {
		a.mu.Unlock()
		a.logger.Debug("dropping stale result", zap.String("epoch", string(epoch)), zap.String("value", r.Value))
		return false
	}
	a.results = append(a.results, r)
	a.mu.Unlock()
	a.notify()
	return true
}

// PushHistory appends r to the history, evicting the oldest entries beyond
// HistoryCap.
func (a *Aggregator) PushHistory(r Record) {
	a.mu.Lock()
	a.history = capHistory(append(a.history, r))
	a.mu.Unlock()
	a.notify()
}

// SetHistory replaces the history, keeping the most recent HistoryCap entries.
func (a *Aggregator) SetHistory(records []Record) {
	a.mu.Lock()
	a.history = capHistory(append([]Record(nil), records...))
	a.mu.Unlock()
	a.notify()
}

func capHistory(h []Record) []Record {
	if over := len(h) - HistoryCap; over > 0 {
		h = append(h[:0:0], h[over:]...)
	}
	return h
}

// ClearResults empties the result set without starting a new epoch.
func (a *Aggregator) ClearResults() {
	a.mu.Lock()
	a.results = nil
	a.mu.Unlock()
	a.notify()
}

// ClearHistory empties the history and persists the empty buffer.
func (a *Aggregator) ClearHistory(ctx context.Context) error {
	a.mu.Lock()
	a.history = nil
	a.mu.Unlock()
	a.notify()
	return a.PersistHistory(ctx)
}

// PersistHistory writes the current history to the sink. Failures are also
// recorded in the error log.
func (a *Aggregator) PersistHistory(ctx context.Context) error {
	if a.sink == nil {
		return nil
	}
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	snapshot := a.History()
	if err := a.sink.SaveHistory(ctx, snapshot); err != nil {
		err = fmt.Errorf("saving history: %w", err)
		a.logger.Warn("history not persisted", zap.Error(err))
		a.AddError(err)
		return err
	}
	return nil
}

// AddError records err in the error log. nil is ignored.
func (a *Aggregator) AddError(err error) {
	if err == nil {
		return
	}
	a.AddMessage(err.Error())
}

// AddMessage records a transient, user-facing message.
func (a *Aggregator) AddMessage(msg string) {
	a.mu.Lock()
	a.errs = append(a.errs, msg)
	a.mu.Unlock()
	a.notify()
}

// DrainErrors returns the distinct logged messages in first-occurrence order
// and clears the log.
func (a *Aggregator) DrainErrors() []string {
	a.mu.Lock()
	errs := a.errs
	a.errs = nil
	a.mu.Unlock()

	if len(errs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(errs))
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// JobStarted increments the outstanding-job counter.
func (a *Aggregator) JobStarted() {
	a.mu.Lock()
	a.outstanding++
	a.mu.Unlock()
	a.notify()
}

// JobFinished decrements the outstanding-job counter.
func (a *Aggregator) JobFinished() {
	a.mu.Lock()
	if a.outstanding > 0 {
		a.outstanding--
	}
	a.mu.Unlock()
	a.notify()
}

// Outstanding returns the number of running jobs.
func (a *Aggregator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outstanding
}

// Results returns a copy of the current result set in arrival order.
func (a *Aggregator) Results() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Record(nil), a.results...)
}

// History returns a copy of the history, oldest first.
func (a *Aggregator) History() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Record(nil), a.history...)
}

// Snapshot returns the result set together with the epoch it belongs to.
func (a *Aggregator) Snapshot() (Epoch, []Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch, append([]Record(nil), a.results...)
}
