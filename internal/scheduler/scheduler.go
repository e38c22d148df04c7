// Package scheduler promotes due pending transactions into sponsorship jobs
// on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/sponsor-access-sync/internal/config"
	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/logging"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	"github.com/kurihiro0119/sponsor-access-sync/internal/queue"
)

// PendingStore is the persistence the sweep needs
type PendingStore interface {
	GetDuePendingTransactions(ctx context.Context, now time.Time) ([]*domain.PendingTransaction, error)
	MarkPendingTransactionDone(ctx context.Context, id string) (bool, error)
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Due      int `json:"due"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}

// Scheduler runs the pending-transaction sweep
type Scheduler struct {
	store    PendingStore
	enqueuer queue.Enqueuer
	metrics  metrics.Recorder
	logger   zerolog.Logger
	now      func() time.Time

	// one sweep at a time within a process
	sweepMu sync.Mutex
	cron    *cron.Cron
}

// New creates a new scheduler
func New(store PendingStore, enqueuer queue.Enqueuer, recorder metrics.Recorder, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		enqueuer: enqueuer,
		metrics:  metrics.OrNoop(recorder),
		logger:   logging.Component(logger, "scheduler"),
		now:      time.Now,
	}
}

// Sweep promotes every due pending transaction. The job is enqueued before
// the transaction is marked done, so a failure in between can only cause a
// duplicate job, never a lost one.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	due, err := s.store.GetDuePendingTransactions(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to load due pending transactions: %w", err)
	}

	result := &SweepResult{Due: len(due)}
	for _, tx := range due {
		log := s.logger.With().
			Str("pending_id", tx.ID).
			Str("sponsor", tx.Sponsor).
			Stringer("amount", tx.Amount).
			Logger()

		job := domain.SponsorshipJob{OwnerID: tx.OwnerID, Sponsor: tx.Sponsor, Amount: tx.Amount}
		if err := s.enqueuer.Enqueue(ctx, job); err != nil {
			result.Failed++
			s.metrics.RecordPendingPromotion("enqueue_failed")
			log.Error().Err(err).Msg("failed to enqueue pending transaction")
			continue
		}

		marked, err := s.store.MarkPendingTransactionDone(ctx, tx.ID)
		if err != nil {
			// the job is queued; the next sweep will queue a duplicate
			result.Failed++
			s.metrics.RecordPendingPromotion("mark_failed")
			log.Error().Err(err).Msg("failed to mark pending transaction done")
			continue
		}
		if !marked {
			s.metrics.RecordPendingPromotion("already_done")
			log.Debug().Msg("pending transaction already promoted")
			continue
		}

		result.Promoted++
		s.metrics.RecordPendingPromotion("promoted")
		log.Info().Time("effective_date", tx.EffectiveDate).Msg("promoted pending transaction")
	}

	return result, nil
}

// Start runs Sweep on spec until Stop is called
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	c := cron.New(cron.WithParser(cron.NewParser(config.SweepCronFields)))
	_, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("pending sweep failed, retrying next tick")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	s.cron = c
	c.Start()
	s.logger.Info().Str("schedule", spec).Msg("scheduler started")
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}
