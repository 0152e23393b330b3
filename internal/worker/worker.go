// Package worker consumes dispatched jobs from the queue, runs the
// summarization call under a deadline and records the terminal status.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gistd/gistd/internal/cache"
	"github.com/gistd/gistd/internal/job"
	"github.com/gistd/gistd/internal/metrics"
	"github.com/gistd/gistd/internal/queue"
	"github.com/gistd/gistd/internal/summarize"
)

// Pool runs n consumers against the work queue. Each consumer holds its own
// channel with prefetch 1, so at most n jobs are in flight at once.
type Pool struct {
	store       job.Store
	cache       cache.Cache
	summarizer  summarize.Summarizer
	newConsumer func() (queue.Consumer, error)
	log         zerolog.Logger

	n        int
	timeout  time.Duration
	cacheTTL time.Duration

	wg sync.WaitGroup
}

func NewPool(store job.Store, c cache.Cache, s summarize.Summarizer, newConsumer func() (queue.Consumer, error), log zerolog.Logger, n int, timeout, cacheTTL time.Duration) *Pool {
	return &Pool{
		store:       store,
		cache:       c,
		summarizer:  s,
		newConsumer: newConsumer,
		log:         log.With().Str("component", "worker").Logger(),
		n:           n,
		timeout:     timeout,
		cacheTTL:    cacheTTL,
	}
}

// Start launches the worker goroutines. They exit when ctx is canceled and
// their delivery channel drains.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.n; i++ {
		consumer, err := p.newConsumer()
		if err != nil {
			return err
		}
		deliveries, err := consumer.Consume(ctx)
		if err != nil {
			return err
		}

		p.wg.Add(1)
		go p.run(ctx, i, deliveries)
	}
	return nil
}

// Wait blocks until every worker goroutine has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int, deliveries <-chan queue.Delivery) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()
	log.Info().Msg("worker started")

	for d := range deliveries {
		p.handle(ctx, log, d)
	}
	log.Info().Msg("worker stopped")
}

func (p *Pool) handle(ctx context.Context, log zerolog.Logger, d queue.Delivery) {
	var msg queue.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Error().Err(err).Msg("malformed queue message")
		if err := d.Reject(); err != nil {
			log.Error().Err(err).Msg("reject malformed message")
		}
		return
	}

	log = log.With().Str("job_id", msg.JobID).Logger()

	// Detach from the pool's lifecycle: a delivery that arrived before
	// shutdown still gets its state written, so drain never loses a result.
	ctx = context.WithoutCancel(ctx)

	claimed, err := p.store.MarkProcessing(ctx, msg.JobID)
	if err != nil {
		// Leave the row queued; the dispatcher republishes after the grace.
		log.Error().Err(err).Msg("mark processing")
		if err := d.Reject(); err != nil {
			log.Error().Err(err).Msg("reject after store error")
		}
		return
	}
	if !claimed {
		// Redelivery of a job that already finished. Drop it.
		log.Debug().Msg("job already terminal, discarding delivery")
		if err := d.Ack(); err != nil {
			log.Error().Err(err).Msg("ack duplicate delivery")
		}
		return
	}

	hctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	summary, err := p.summarizer.Summarize(hctx, msg.Text)
	elapsed := time.Since(start)
	metrics.SummarizeSeconds.Observe(elapsed.Seconds())

	if err != nil {
		reason := summarize.Classify(err, p.timeout)
		log.Error().Err(err).Dur("elapsed", elapsed).Str("reason", reason).Msg("summarization failed")
		if err := p.store.Fail(ctx, msg.JobID, reason); err != nil {
			log.Error().Err(err).Msg("record failure")
		}
		metrics.JobsFinishedTotal.WithLabelValues("failed").Inc()
		if err := d.Reject(); err != nil {
			log.Error().Err(err).Msg("reject failed job")
		}
		return
	}

	// Write-through so an identical submission within the TTL is served
	// without another backend call. A cache error only costs the hit.
	fp := cache.Fingerprint(msg.Text)
	if err := p.cache.Store(ctx, fp, summary, p.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("cache store")
	}

	if err := p.store.Complete(ctx, msg.JobID, summary, elapsed.Milliseconds()); err != nil {
		log.Error().Err(err).Msg("record completion")
	}
	metrics.JobsFinishedTotal.WithLabelValues("completed").Inc()
	log.Info().Dur("elapsed", elapsed).Msg("job completed")

	if err := d.Ack(); err != nil {
		log.Error().Err(err).Msg("ack completed job")
	}
}
