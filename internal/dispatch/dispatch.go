// Package dispatch fans extracted indicators out to the lookup services that
// accept them.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ashfaaq98/ioc-console/internal/bus"
	"github.com/Ashfaaq98/ioc-console/internal/client"
	"github.com/Ashfaaq98/ioc-console/internal/extract"
	"github.com/Ashfaaq98/ioc-console/internal/privaddr"
	"github.com/Ashfaaq98/ioc-console/internal/results"
	"github.com/Ashfaaq98/ioc-console/internal/service"
)

// Job covers every match of one kind against one service.
type Job struct {
	Service string
	Kind    extract.Kind
	Route   string
	Matches []string
}

// Plan builds one job per (service, kind) pair where the service accepts the
// kind and the kind has matches. Jobs follow service order, then catalog order.
func Plan(res extract.Result, services []service.Descriptor) []Job {
	var jobs []Job
	for _, svc := range services {
		for _, ms := range res.Ordered() {
			if ms.Empty() || !svc.Accepts(ms.Kind) {
				continue
			}
			jobs = append(jobs, Job{
				Service: svc.Kind,
				Kind:    ms.Kind,
				Route:   svc.Route(ms.Kind),
				Matches: append([]string(nil), ms.Matches...),
			})
		}
	}
	return jobs
}

// Lookuper performs one remote lookup.
type Lookuper interface {
	Lookup(ctx context.Context, req client.LookupRequest) (results.Record, error)
}

// Publisher receives every accepted result.
type Publisher interface {
	PublishResult(ctx context.Context, msg bus.ResultMessage) error
}

// Options tunes a Dispatcher.
type Options struct {
	// MaxJobs bounds concurrently running jobs when > 0.
	MaxJobs int
	// Publisher, when set, is fed every accepted result.
	Publisher Publisher
}

// Dispatcher runs jobs against a Lookuper and records outcomes in an
// Aggregator.
type Dispatcher struct {
	lookup Lookuper
	agg    *results.Aggregator
	pub    Publisher
	slots  chan struct{}
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(lookup Lookuper, agg *results.Aggregator, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		lookup: lookup,
		agg:    agg,
		pub:    opts.Publisher,
		logger: logger.Named("dispatch"),
	}
	if opts.MaxJobs > 0 {
		d.slots = make(chan struct{}, opts.MaxJobs)
	}
	return d
}

// Batch tracks the jobs started by one Dispatch call.
type Batch struct {
	Jobs int
	g    errgroup.Group
}

// Wait blocks until every job of the batch has finished.
func (b *Batch) Wait() {
	_ = b.g.Wait()
}

// Dispatch starts every job in its own goroutine and returns immediately.
// Each job is counted as outstanding before Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, epoch results.Epoch, jobs []Job) *Batch {
	b := &Batch{Jobs: len(jobs)}
	for _, job := range jobs {
		d.agg.JobStarted()
		b.g.Go(func() error {
			defer d.agg.JobFinished()
			d.run(ctx, epoch, job)
			return nil
		})
	}
	d.logger.Debug("dispatched", zap.String("epoch", string(epoch)), zap.Int("jobs", len(jobs)))
	return b
}

func (d *Dispatcher) run(ctx context.Context, epoch results.Epoch, job Job) {
	if d.slots != nil {
		select {
		case d.slots <- struct{}{}:
			defer func() { <-d.slots }()
		case <-ctx.Done():
			return
		}
	}

	log := d.logger.With(zap.String("service", job.Service), zap.String("kind", string(job.Kind)))
	start := time.Now()
	attempted := 0

	for _, m := range job.Matches {
		if ctx.Err() != nil {
			break
		}
		if privaddr.IsPrivate(m) {
			continue
		}
		attempted++
		rec, err := d.lookup.Lookup(ctx, client.LookupRequest{
			To:    job.Service,
			Value: m,
			Type:  string(job.Kind),
			Route: job.Route,
		})
		if err != nil {
			log.Debug("lookup failed", zap.String("value", m), zap.Error(err))
			d.agg.AddError(err)
			continue
		}

		d.agg.AppendResult(epoch, rec)
		d.agg.PushHistory(rec)
		if d.pub != nil {
			msg := bus.ResultMessage{Epoch: string(epoch), Service: job.Service, Kind: string(job.Kind), Record: rec}
			if err := d.pub.PublishResult(ctx, msg); err != nil {
				log.Warn("result not published", zap.Error(err))
			}
		}
	}

	// accepted results are kept even when the job was cancelled
	_ = d.agg.PersistHistory(context.WithoutCancel(ctx))
	log.Debug("job finished", zap.Int("attempted", attempted), zap.Duration("took", time.Since(start)))
}
