// Package dispatch moves queued jobs from the store onto the work queue.
// The dispatcher is the only publisher: the API layer never talks to the
// broker, it just persists a queued row and lets the next tick pick it up.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gistd/gistd/internal/job"
	"github.com/gistd/gistd/internal/metrics"
	"github.com/gistd/gistd/internal/queue"
)

type Dispatcher struct {
	store job.Store
	pub   queue.Publisher
	log   zerolog.Logger

	interval      time.Duration
	grace         time.Duration
	sweepInterval time.Duration
	staleAge      time.Duration
}

func New(store job.Store, pub queue.Publisher, log zerolog.Logger, interval, grace, sweepInterval, staleAge time.Duration) *Dispatcher {
	return &Dispatcher{
		store:         store,
		pub:           pub,
		log:           log.With().Str("component", "dispatcher").Logger(),
		interval:      interval,
		grace:         grace,
		sweepInterval: sweepInterval,
		staleAge:      staleAge,
	}
}

// Start runs the dispatch and sweep loops until ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		dispatch := time.NewTicker(d.interval)
		defer dispatch.Stop()
		sweep := time.NewTicker(d.sweepInterval)
		defer sweep.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-dispatch.C:
				d.tick(ctx)
			case <-sweep.C:
				d.sweep(ctx)
			}
		}
	}()
}

// tick publishes every queued job that has not been dispatched within the
// grace window. A job whose worker died before claiming it re-qualifies once
// the grace expires, so at-least-once delivery holds across broker restarts.
func (d *Dispatcher) tick(ctx context.Context) {
	jobs, err := d.store.FindQueued(ctx, d.grace)
	if err != nil {
		d.log.Error().Err(err).Msg("find queued jobs")
		return
	}

	for _, j := range jobs {
		msg := queue.Message{JobID: j.ID, URL: j.URL, Text: j.Content}
		if err := d.pub.Publish(ctx, msg); err != nil {
			d.log.Error().Err(err).Str("job_id", j.ID).Msg("publish job")
			continue
		}
		if err := d.store.MarkDispatched(ctx, j.ID, time.Now().UTC()); err != nil {
			d.log.Error().Err(err).Str("job_id", j.ID).Msg("mark dispatched")
			continue
		}
		metrics.DispatchedTotal.Inc()
		d.log.Debug().Str("job_id", j.ID).Msg("job dispatched")
	}
}

// sweep fails jobs stuck in processing longer than the stale age, which
// happens when a worker crashes between claiming a job and finishing it.
func (d *Dispatcher) sweep(ctx context.Context) {
	n, err := d.store.ReapStale(ctx, d.staleAge)
	if err != nil {
		d.log.Error().Err(err).Msg("reap stale jobs")
		return
	}
	if n > 0 {
		metrics.StaleJobsSweptTotal.Add(float64(n))
		d.log.Warn().Int64("count", n).Msg("stale processing jobs marked failed")
	}
}
