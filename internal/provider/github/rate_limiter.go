package github

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/rs/zerolog"

	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
)

const (
	// defaultBudget is GitHub's hourly REST limit for a user token
	defaultBudget = 5000
	// budgetReserve is left untouched so the owner's own tooling keeps working
	budgetReserve  = 10
	minCallSpacing = 100 * time.Millisecond
)

// budget tracks the REST rate limit of one token. A spent budget fails the
// call with a RATE_LIMITED error carrying the reset time; the caller's job
// is then redelivered by the queue after the reset.
type budget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	lastCall  time.Time
	spacing   time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

func newBudget(logger zerolog.Logger) *budget {
	return &budget{
		remaining: defaultBudget,
		reset:     time.Now().Add(time.Hour),
		spacing:   minCallSpacing,
		now:       time.Now,
		logger:    logger,
	}
}

// Acquire reserves one call. Calls on the same token are spaced at least
// spacing apart.
func (b *budget) Acquire(ctx context.Context) error {
	b.mu.Lock()
	now := b.now()
	if b.remaining <= budgetReserve {
		if now.Before(b.reset) {
			remaining, reset := b.remaining, b.reset
			b.mu.Unlock()
			b.logger.Warn().
				Int("remaining", remaining).
				Time("reset", reset).
				Msg("rate limit budget spent")
			return apperrors.NewRateLimitedUntilError(
				fmt.Sprintf("rate limit budget spent (%d remaining)", remaining), reset)
		}
		b.remaining = defaultBudget
		b.reset = now.Add(time.Hour)
	}

	slot := b.lastCall.Add(b.spacing)
	if slot.Before(now) {
		slot = now
	}
	b.lastCall = slot
	b.remaining--
	b.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observe records the limit reported by a response
func (b *budget) Observe(rate github.Rate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = rate.Remaining
	b.reset = rate.Reset.Time
}
