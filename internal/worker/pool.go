// Package worker pulls jobs off the queue and dispatches them to the
// reconciler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
	"github.com/kurihiro0119/sponsor-access-sync/internal/logging"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	"github.com/kurihiro0119/sponsor-access-sync/internal/queue"
)

// Handler processes each job kind
type Handler interface {
	Reconcile(ctx context.Context, job domain.SponsorshipJob) error
	ResyncOwner(ctx context.Context, job domain.TierResyncJob) error
	RevokeRepository(ctx context.Context, job domain.RepositoryRemovedJob) error
}

// Config holds pool configuration
type Config struct {
	// Concurrency is the number of lanes
	Concurrency int
	Retry       queue.RetryPolicy
	// ErrorBackoff is the pause after a failed dequeue (default: 1s)
	ErrorBackoff time.Duration
}

// Pool runs jobs on a fixed number of lanes. Jobs with the same key always
// run on the same lane, so updates for one owner and sponsor are applied
// in the order they were dequeued. A retried job that is older than a job
// already applied for its key is dropped.
type Pool struct {
	queue     queue.Queue
	handler   Handler
	config    Config
	metrics   metrics.Recorder
	logger    zerolog.Logger
	completed *completions
}

type delivery struct {
	env *queue.Envelope
	job domain.Job
}

// NewPool creates a new worker pool
func NewPool(q queue.Queue, handler Handler, config Config, recorder metrics.Recorder, logger zerolog.Logger) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = time.Second
	}
	return &Pool{
		queue:     q,
		handler:   handler,
		config:    config,
		metrics:   metrics.OrNoop(recorder),
		logger:    logging.Component(logger, "worker"),
		completed: newCompletions(),
	}
}

// Run processes jobs until ctx is cancelled or the queue is closed
func (p *Pool) Run(ctx context.Context) error {
	lanes := make([]chan delivery, p.config.Concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for i := range lanes {
		lane := make(chan delivery)
		lanes[i] = lane
		g.Go(func() error {
			for d := range lane {
				p.process(gctx, d.env, d.job)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		return p.fetch(gctx, lanes)
	})

	p.logger.Info().Int("lanes", len(lanes)).Msg("worker pool started")
	err := g.Wait()
	p.logger.Info().Msg("worker pool stopped")
	return err
}

func (p *Pool) fetch(ctx context.Context, lanes []chan delivery) error {
	for {
		env, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			p.logger.Error().Err(err).Msg("failed to dequeue job")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.config.ErrorBackoff):
			}
			continue
		}

		job, err := env.Job()
		if err != nil {
			p.fail(ctx, env, env.Kind, err)
			continue
		}

		lane := lanes[laneFor(job.Key(), len(lanes))]
		select {
		case lane <- delivery{env: env, job: job}:
		case <-ctx.Done():
			// hand the envelope back so it is not stuck in flight
			if err := p.queue.Retry(context.WithoutCancel(ctx), env, 0); err != nil {
				p.logger.Error().Err(err).Str("job_id", env.ID).Msg("failed to return job on shutdown")
			}
			return nil
		}
	}
}

func laneFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (p *Pool) process(ctx context.Context, env *queue.Envelope, job domain.Job) {
	// a redelivered job must not undo a newer job for the same key
	if p.completed.superseded(job.Key(), env.EnqueuedAt) {
		if err := p.queue.Ack(context.WithoutCancel(ctx), env); err != nil {
			p.logger.Error().Err(err).Str("job_id", env.ID).Msg("failed to ack superseded job")
		}
		p.metrics.RecordJob(string(job.Kind()), "superseded")
		p.logger.Info().
			Str("job_id", env.ID).
			Str("kind", string(job.Kind())).
			Int("attempts", env.Attempts).
			Msg("dropping job superseded by a newer one")
		return
	}

	start := time.Now()
	err := p.dispatch(ctx, job)
	p.metrics.RecordJobDuration(string(job.Kind()), time.Since(start))

	if err != nil {
		p.fail(ctx, env, job.Kind(), err)
		return
	}
	p.completed.record(job.Key(), env.EnqueuedAt)

	if err := p.queue.Ack(context.WithoutCancel(ctx), env); err != nil {
		p.logger.Error().Err(err).Str("job_id", env.ID).Msg("failed to ack job")
	}
	p.metrics.RecordJob(string(job.Kind()), "success")
	p.logger.Debug().
		Str("job_id", env.ID).
		Str("kind", string(job.Kind())).
		Dur("duration", time.Since(start)).
		Msg("job completed")
}

// dispatch routes a job to its handler
func (p *Pool) dispatch(ctx context.Context, job domain.Job) error {
	switch j := job.(type) {
	case domain.SponsorshipJob:
		return p.handler.Reconcile(ctx, j)
	case domain.TierResyncJob:
		return p.handler.ResyncOwner(ctx, j)
	case domain.RepositoryRemovedJob:
		return p.handler.RevokeRepository(ctx, j)
	default:
		return apperrors.NewPermanentError(fmt.Sprintf("no handler for job kind %q", job.Kind()), nil)
	}
}

// fail dead-letters permanent failures and exhausted jobs and schedules a
// retry with backoff for everything else
func (p *Pool) fail(ctx context.Context, env *queue.Envelope, kind domain.JobKind, cause error) {
	bookkeeping := context.WithoutCancel(ctx)
	env.Attempts++
	env.LastError = cause.Error()

	log := p.logger.With().
		Str("job_id", env.ID).
		Str("kind", string(kind)).
		Int("attempts", env.Attempts).
		Err(cause).
		Logger()

	if apperrors.IsPermanent(cause) || p.config.Retry.Exhausted(env.Attempts) {
		if err := p.queue.Dead(bookkeeping, env); err != nil {
			log.Error().AnErr("dead_letter_error", err).Msg("failed to dead-letter job")
		}
		p.metrics.RecordJob(string(kind), "dead")
		log.Error().Bool("permanent", apperrors.IsPermanent(cause)).Msg("job dead-lettered")
		return
	}

	delay := p.retryDelay(env.Attempts, cause)
	if err := p.queue.Retry(bookkeeping, env, delay); err != nil {
		log.Error().AnErr("retry_error", err).Msg("failed to schedule retry")
	}
	p.metrics.RecordJob(string(kind), "retry")
	log.Warn().Dur("delay", delay).Msg("job failed, retrying")
}

// retryDelay is the policy backoff, or the time until a rate limit clears
// when that is later
func (p *Pool) retryDelay(attempts int, cause error) time.Duration {
	delay := p.config.Retry.Backoff(attempts)
	if at, ok := apperrors.RetryAt(cause); ok {
		if until := time.Until(at); until > delay {
			delay = until
		}
	}
	return delay
}

const (
	completionRetention = 24 * time.Hour
	completionPruneSize = 10000
)

// completions remembers, per job key, the enqueue time of the newest job
// that succeeded in this process
type completions struct {
	mu   sync.Mutex
	done map[string]time.Time
	now  func() time.Time
}

func newCompletions() *completions {
	return &completions{done: make(map[string]time.Time), now: time.Now}
}

// superseded reports whether a job with the same key enqueued after
// enqueuedAt has already succeeded
func (c *completions) superseded(key string, enqueuedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	newest, ok := c.done[key]
	return ok && newest.After(enqueuedAt)
}

func (c *completions) record(key string, enqueuedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if newest, ok := c.done[key]; ok && !enqueuedAt.After(newest) {
		return
	}
	c.done[key] = enqueuedAt

	if len(c.done) > completionPruneSize {
		cutoff := c.now().Add(-completionRetention)
		for k, t := range c.done {
			if t.Before(cutoff) {
				delete(c.done, k)
			}
		}
	}
}
