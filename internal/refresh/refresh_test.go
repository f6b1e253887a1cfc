package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Ashfaaq98/ioc-console/internal/results"
)

type fakeView struct {
	mu       sync.Mutex
	statuses []Status
	renders  [][]results.Record
}

func (v *fakeView) ShowStatus(s Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, s)
}

func (v *fakeView) ShowResults(r []results.Record) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.renders = append(v.renders, r)
}

func (v *fakeView) lastStatus() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.statuses[len(v.statuses)-1]
}

func (v *fakeView) renderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.renders)
}

func TestStatusScenario(t *testing.T) {
	agg := results.NewAggregator(nil, nil)
	view := &fakeView{}
	loop := NewLoop(agg, view, Options{}, nil)

	agg.AddError(errors.New("x"))
	agg.JobStarted()
	agg.JobStarted()

	st := loop.Tick()
	assert.Equal(t, Status{Level: LevelError, Text: "x", Messages: []string{"x"}}, st)
	assert.Empty(t, agg.DrainErrors(), "rendering clears the error log")

	st = loop.Tick()
	assert.Equal(t, Status{Level: LevelJobs, Text: "Jobs remaining: 2"}, st)

	agg.JobFinished()
	agg.JobFinished()
	st = loop.Tick()
	assert.Equal(t, Status{Level: LevelNominal, Text: "System nominal"}, st)
	assert.Len(t, view.statuses, 3)
}

func TestErrorsDeduplicatedInStatus(t *testing.T) {
	agg := results.NewAggregator(nil, nil)
	loop := NewLoop(agg, &fakeView{}, Options{}, nil)

	agg.AddMessage("a")
	agg.AddMessage("b")
	agg.AddMessage("a")
	st := loop.Tick()
	assert.Equal(t, []string{"a", "b"}, st.Messages)
	assert.Equal(t, "a; b", st.Text)
}

func TestErrorHold(t *testing.T) {
	agg := results.NewAggregator(nil, nil)
	view := &fakeView{}
	loop := NewLoop(agg, view, Options{ErrorHold: 3 * time.Second}, nil)
	now := time.Unix(1000, 0)
	loop.now = func() time.Time { return now }

	agg.AddMessage("boom")
	loop.Tick()
	now = now.Add(time.Second)
	loop.Tick()
	assert.Len(t, view.statuses, 1, "error stays on screen while held")

	now = now.Add(3 * time.Second)
	loop.Tick()
	require.Len(t, view.statuses, 2)
	assert.Equal(t, LevelNominal, view.lastStatus().Level)
}

func TestRenderOnlyOnChange(t *testing.T) {
	agg := results.NewAggregator(nil, nil)
	view := &fakeView{}
	loop := NewLoop(agg, view, Options{}, nil)

	loop.Tick()
	assert.Equal(t, 0, view.renderCount(), "empty result set is not rendered")

	epoch := agg.BeginSearch()
	agg.AppendResult(epoch, results.Record{ID: "a", Matched: 1})
	agg.AppendResult(epoch, results.Record{ID: "b", Matched: 5})
	loop.Tick()
	loop.Tick()
	require.Equal(t, 1, view.renderCount())

	want := []results.Record{{ID: "b", Matched: 5}, {ID: "a", Matched: 1}}
	if diff := cmp.Diff(want, view.renders[0]); diff != "" {
		t.Errorf("rendered results mismatch (-want +got):\n%s", diff)
	}

	agg.AppendResult(epoch, results.Record{ID: "c"})
	loop.Tick()
	assert.Equal(t, 2, view.renderCount())
}

func TestNewEpochWithIdenticalResultsRenders(t *testing.T) {
	agg := results.NewAggregator(nil, nil)
	view := &fakeView{}
	loop := NewLoop(agg, view, Options{}, nil)
	r := results.Record{ID: "same"}

	agg.AppendResult(agg.BeginSearch(), r)
	loop.Tick()
	agg.AppendResult(agg.BeginSearch(), r)
	loop.Tick()
	assert.Equal(t, 2, view.renderCount())
}

func TestResetForcesRender(t *testing.T) {
	agg := results.NewAggregator(nil, nil)
	view := &fakeView{}
	loop := NewLoop(agg, view, Options{}, nil)

	agg.AppendResult(agg.BeginSearch(), results.Record{ID: "a"})
	loop.Tick()
	loop.Reset()
	loop.Tick()
	assert.Equal(t, 2, view.renderCount())
}

func TestRunReactsToChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	agg := results.NewAggregator(nil, nil)
	view := &fakeView{}
	loop := NewLoop(agg, view, Options{Heartbeat: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	agg.AppendResult(agg.BeginSearch(), results.Record{ID: "a"})
	assert.Eventually(t, func() bool { return view.renderCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// blockingView parks in ShowStatus until released, like a presenter that
// hands its work to a busy event loop.
type blockingView struct {
	fakeView
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (v *blockingView) ShowStatus(s Status) {
	v.once.Do(func() { close(v.entered) })
	<-v.release
	v.fakeView.ShowStatus(s)
}

func TestResetWhilePresenterBlocked(t *testing.T) {
	agg := results.NewAggregator(nil, nil)
	view := &blockingView{entered: make(chan struct{}), release: make(chan struct{})}
	loop := NewLoop(agg, view, Options{}, nil)

	agg.AppendResult(agg.BeginSearch(), results.Record{ID: "a"})
	ticked := make(chan struct{})
	go func() {
		loop.Tick()
		close(ticked)
	}()
	<-view.entered

	reset := make(chan struct{})
	go func() {
		loop.Reset()
		close(reset)
	}()
	select {
	case <-reset:
	case <-time.After(time.Second):
		close(view.release)
		t.Fatal("Reset blocked behind a presenter call")
	}

	close(view.release)
	<-ticked
	assert.Equal(t, 1, view.renderCount())
}
