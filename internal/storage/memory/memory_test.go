package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
)

func TestStorage_RepositoryMoveAndTierDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	owner := &domain.Owner{Login: "octo"}
	require.NoError(t, s.SaveOwner(ctx, owner))

	a := &domain.Tier{OwnerID: owner.ID, Title: "a", MinAmount: domain.Dollars(5)}
	b := &domain.Tier{OwnerID: owner.ID, Title: "b", MinAmount: domain.Dollars(20)}
	require.NoError(t, s.SaveTier(ctx, b))
	require.NoError(t, s.SaveTier(ctx, a))

	require.NoError(t, s.SaveRepository(ctx, &domain.Repository{OwnerID: owner.ID, OwnerOrOrg: "octo", Name: "r1", TierID: &a.ID}))
	require.NoError(t, s.SaveRepository(ctx, &domain.Repository{OwnerID: owner.ID, OwnerOrOrg: "octo", Name: "r1", TierID: &b.ID}))

	tiers, err := s.GetTiers(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "a", tiers[0].Title, "tiers are ordered by minimum amount")
	assert.Empty(t, tiers[0].Repositories)
	assert.Len(t, tiers[1].Repositories, 1)

	require.NoError(t, s.DeleteTier(ctx, owner.ID, b.ID))
	repos, err := s.GetRepositories(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Nil(t, repos[0].TierID)

	_, err = s.GetTier(ctx, "other-owner", a.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStorage_MarkPendingDoneOnce(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx := &domain.PendingTransaction{OwnerID: "o", Sponsor: "alice", EffectiveDate: time.Now().Add(-time.Second)}
	require.NoError(t, s.SavePendingTransaction(ctx, tx))

	ok, err := s.MarkPendingTransactionDone(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkPendingTransactionDone(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	due, err := s.GetDuePendingTransactions(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}
