// Package queue runs the durable job queue: a fixed pool of workers pulling
// from the jobs table, with bounded retries, exponential backoff, and
// crash recovery via stale-job requeue. Delivery is at-least-once; handlers
// are expected to be idempotent (the reply receipt ledger covers the reply
// pipeline).
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/corkline/wa-sales-backend/internal/domain"
	"github.com/corkline/wa-sales-backend/internal/repo"
)

var jobRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_job_runs_total",
		Help: "Total job executions by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

func init() {
	prometheus.MustRegister(jobRuns)
}

// Handler executes one claimed job.
type Handler func(ctx context.Context, job *domain.Job) error

// Options configures a Pool.
type Options struct {
	Workers      int
	PollInterval time.Duration // idle wait between claim attempts
	JobTimeout   time.Duration // per-job execution deadline
	RetryBackoff time.Duration // base backoff, doubled per attempt
	StaleAfter   time.Duration // running jobs older than this get requeued
	Logger       zerolog.Logger
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = time.Minute
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
}

// Pool is the worker pool. Run blocks until ctx is canceled and all workers
// drained their current job.
type Pool struct {
	db      *gorm.DB
	handler Handler
	opts    Options
}

// NewPool builds a Pool running handler for every claimed job.
func NewPool(db *gorm.DB, handler Handler, opts Options) *Pool {
	opts.defaults()
	return &Pool{db: db, handler: handler, opts: opts}
}

// Enqueue adds a job to the queue for immediate execution.
func (p *Pool) Enqueue(ctx context.Context, kind, payload string, maxAttempts int) (*domain.Job, error) {
	return repo.EnqueueJob(ctx, p.db, kind, payload, maxAttempts, time.Now().UTC())
}

// Run starts the workers plus a janitor goroutine and blocks until ctx is
// done. The returned error is ctx's cause; worker loops only exit on
// cancellation.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.opts.Workers; i++ {
		g.Go(func() error {
			return p.workerLoop(ctx)
		})
	}
	g.Go(func() error {
		return p.janitorLoop(ctx)
	})
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := repo.ClaimJob(ctx, p.db, time.Now().UTC())
		if errors.Is(err, repo.ErrNoJob) {
			if err := sleep(ctx, p.opts.PollInterval); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			p.opts.Logger.Error().Err(err).Msg("job claim failed")
			if err := sleep(ctx, p.opts.PollInterval); err != nil {
				return err
			}
			continue
		}

		p.runJob(ctx, job)
	}
}

func (p *Pool) runJob(ctx context.Context, job *domain.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.opts.JobTimeout)
	defer cancel()

	err := p.handler(jobCtx, job)

	// Outcome writes use a fresh context so a job finishing during shutdown
	// still records its state.
	writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer writeCancel()

	if err == nil {
		jobRuns.WithLabelValues(job.Kind, "success").Inc()
		if err := repo.CompleteJob(writeCtx, p.db, job.ID); err != nil {
			p.opts.Logger.Error().Err(err).Str("job_id", job.ID).Msg("job completion write failed")
		}
		return
	}

	jobRuns.WithLabelValues(job.Kind, "failure").Inc()
	p.opts.Logger.Warn().
		Err(err).
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Int("attempt", job.Attempts).
		Int("max_attempts", job.MaxAttempts).
		Msg("job failed")
	if err := repo.FailJob(writeCtx, p.db, job, err, p.opts.RetryBackoff); err != nil {
		p.opts.Logger.Error().Err(err).Str("job_id", job.ID).Msg("job failure write failed")
	}
}

// janitorLoop periodically returns stale running jobs to the queue.
func (p *Pool) janitorLoop(ctx context.Context) error {
	t := time.NewTicker(p.opts.StaleAfter)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			cutoff := time.Now().UTC().Add(-p.opts.StaleAfter)
			n, err := repo.RequeueStaleRunning(ctx, p.db, cutoff)
			if err != nil {
				p.opts.Logger.Error().Err(err).Msg("stale job requeue failed")
				continue
			}
			if n > 0 {
				p.opts.Logger.Warn().Int64("jobs", n).Msg("requeued stale running jobs")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
