package github

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
)

func TestBudget_SpentFailsFastUntilReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := newBudget(zerolog.Nop())
	b.spacing = 0
	b.now = func() time.Time { return now }

	reset := now.Add(20 * time.Minute)
	b.Observe(github.Rate{Remaining: budgetReserve, Reset: github.Timestamp{Time: reset}})

	start := time.Now()
	err := b.Acquire(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, apperrors.IsRateLimited(err))
	at, ok := apperrors.RetryAt(err)
	require.True(t, ok)
	assert.Equal(t, reset, at)

	now = reset.Add(time.Second)
	require.NoError(t, b.Acquire(context.Background()))
	assert.Equal(t, defaultBudget-1, b.remaining)
}

func TestBudget_SpacesCalls(t *testing.T) {
	b := newBudget(zerolog.Nop())
	b.spacing = 30 * time.Millisecond

	start := time.Now()
	require.NoError(t, b.Acquire(context.Background()))
	require.NoError(t, b.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestBudget_AcquireHonorsContext(t *testing.T) {
	b := newBudget(zerolog.Nop())
	b.spacing = time.Hour
	require.NoError(t, b.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Acquire(ctx), context.DeadlineExceeded)
}
