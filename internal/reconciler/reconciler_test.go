package reconciler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	"github.com/kurihiro0119/sponsor-access-sync/internal/provider/providertest"
	queuememory "github.com/kurihiro0119/sponsor-access-sync/internal/queue/memory"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage/memory"
)

type fixture struct {
	store    *memory.Storage
	provider *providertest.Fake
	queue    *queuememory.Queue
	rec      *Reconciler
	owner    *domain.Owner
}

// newFixture seeds tier A ($5, r1) and tier B ($20, r2)
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:    memory.New(),
		provider: providertest.NewFake(),
		queue:    queuememory.New(),
	}
	t.Cleanup(func() { _ = f.queue.Close() })

	f.owner = &domain.Owner{Login: "octo", WebhookSecret: "s", Credential: domain.NewCredential("gho_token")}
	require.NoError(t, f.store.SaveOwner(ctx, f.owner))

	a := &domain.Tier{OwnerID: f.owner.ID, Title: "A", MinAmount: domain.Dollars(5)}
	b := &domain.Tier{OwnerID: f.owner.ID, Title: "B", MinAmount: domain.Dollars(20)}
	require.NoError(t, f.store.SaveTier(ctx, a))
	require.NoError(t, f.store.SaveTier(ctx, b))
	require.NoError(t, f.store.SaveRepository(ctx, &domain.Repository{OwnerID: f.owner.ID, OwnerOrOrg: "octo", Name: "r1", TierID: &a.ID}))
	require.NoError(t, f.store.SaveRepository(ctx, &domain.Repository{OwnerID: f.owner.ID, OwnerOrOrg: "octo", Name: "r2", TierID: &b.ID}))

	f.rec = New(f.store, f.provider, f.queue, metrics.Noop{}, zerolog.Nop())
	return f
}

func (f *fixture) actions(t *testing.T) map[domain.AuditAction][]string {
	t.Helper()
	entries, err := f.store.GetAuditEntries(context.Background(), f.owner.ID, 100)
	require.NoError(t, err)
	out := make(map[domain.AuditAction][]string)
	for _, e := range entries {
		out[e.Action] = append(out[e.Action], e.Repository)
	}
	return out
}

func TestReconcile_GrantThenCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.rec.Reconcile(ctx, domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(10)}))
	assert.Equal(t, []string{"octo/r1"}, f.provider.Access("alice"))
	assert.Equal(t, []string{"octo/r1"}, f.actions(t)[domain.AuditActionAddCollaborator])

	require.NoError(t, f.rec.Reconcile(ctx, domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: 0}))
	assert.Empty(t, f.provider.Access("alice"))
	assert.Equal(t, []string{"octo/r1"}, f.actions(t)[domain.AuditActionAddCollaborator])

	// Revocation is unconditional: the provider has no collaborator read, so
	// r2 is removed (and audited) on both runs although alice never had it.
	// Only one REMOVE entry is for r1.
	assert.ElementsMatch(t, []string{"octo/r1", "octo/r2", "octo/r2"}, f.actions(t)[domain.AuditActionRemoveCollaborator])

	for _, call := range f.provider.Calls() {
		if call.Op == "add" {
			assert.NotEqual(t, "octo/r2", call.Repo, "r2 is never granted")
		}
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(25)}

	require.NoError(t, f.rec.Reconcile(ctx, job))
	once := f.provider.Access("alice")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.rec.Reconcile(ctx, job))
	}
	assert.Equal(t, once, f.provider.Access("alice"))
	assert.Equal(t, []string{"octo/r1", "octo/r2"}, once)
}

func TestReconcile_DowngradeRevokesHigherTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.Grant("octo/r1", "alice")
	f.provider.Grant("octo/r2", "alice")

	require.NoError(t, f.rec.Reconcile(ctx, domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(5)}))
	assert.Equal(t, []string{"octo/r1"}, f.provider.Access("alice"))
}

func TestReconcile_PartialFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.Failures["octo/r1"] = errors.New("boom")

	require.NoError(t, f.rec.Reconcile(ctx, domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(50)}))
	assert.Equal(t, []string{"octo/r2"}, f.provider.Access("alice"))

	actions := f.actions(t)
	assert.Equal(t, []string{"octo/r1"}, actions[domain.AuditActionFailAddCollaborator])
	assert.Equal(t, []string{"octo/r2"}, actions[domain.AuditActionAddCollaborator])
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestReconcile_TransientFailuresFailJobAfterAllRepositories(t *testing.T) {
	reset := time.Now().Add(time.Hour)
	cases := map[string]error{
		"client timeout":  &url.Error{Op: "Put", URL: "https://api.github.com/repos/octo/r1/collaborators/alice", Err: timeoutError{}},
		"deadline":        fmt.Errorf("add: %w", context.DeadlineExceeded),
		"rate limited":    apperrors.NewRateLimitedUntilError("budget spent", reset),
		"secondary limit": apperrors.NewRateLimitedError("abuse detection"),
	}

	for name, failure := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.provider.Failures["octo/r1"] = failure
			job := domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(50)}

			err := f.rec.Reconcile(ctx, job)
			require.Error(t, err)
			assert.False(t, apperrors.IsPermanent(err))
			assert.False(t, apperrors.IsUnauthenticated(err))
			assert.Equal(t, []string{"octo/r2"}, f.provider.Access("alice"), "other repositories are still tried")
			assert.Equal(t, []string{"octo/r1"}, f.actions(t)[domain.AuditActionFailAddCollaborator])

			// redelivery after the provider recovers completes the grant
			delete(f.provider.Failures, "octo/r1")
			require.NoError(t, f.rec.Reconcile(ctx, job))
			assert.Equal(t, []string{"octo/r1", "octo/r2"}, f.provider.Access("alice"))
		})
	}
}

func TestReconcile_RateLimitKeepsResetTime(t *testing.T) {
	f := newFixture(t)
	reset := time.Now().Add(time.Hour).Truncate(time.Second)
	f.provider.Failures["octo/r1"] = apperrors.NewRateLimitedUntilError("budget spent", reset)

	err := f.rec.Reconcile(context.Background(), domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(5)})
	require.Error(t, err)
	at, ok := apperrors.RetryAt(err)
	require.True(t, ok)
	assert.Equal(t, reset, at)
}

func TestRevokeRepository_TimeoutFailsJob(t *testing.T) {
	f := newFixture(t)
	f.provider.Sponsors = []domain.Sponsor{{Login: "alice", Amount: domain.Dollars(5)}, {Login: "bob", Amount: domain.Dollars(50)}}
	f.provider.Grant("octo/gone", "alice")
	f.provider.Failures["octo/gone"] = &url.Error{Op: "Delete", URL: "https://api.github.com/repos/octo/gone", Err: timeoutError{}}

	err := f.rec.RevokeRepository(context.Background(), domain.RepositoryRemovedJob{OwnerID: f.owner.ID, OwnerOrOrg: "octo", Name: "gone"})
	require.Error(t, err)
	assert.Len(t, f.provider.Calls(), 2, "every sponsor is still tried")
}

func TestReconcile_RevokedTokenAbortsJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.Failures["octo/r1"] = apperrors.NewUnauthenticatedError("bad credentials", nil)

	err := f.rec.Reconcile(ctx, domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(50)})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthenticated(err))
	assert.False(t, apperrors.IsPermanent(err))
	assert.Len(t, f.provider.Calls(), 1, "no further provider calls after the token is rejected")
}

func TestReconcile_UnauthenticatedOwnerIsPermanent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.owner.Credential = domain.Unauthenticated{}
	require.NoError(t, f.store.SaveOwner(ctx, f.owner))

	err := f.rec.Reconcile(ctx, domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(10)})
	assert.True(t, apperrors.IsPermanent(err))
	assert.Empty(t, f.provider.Calls())
	assert.Empty(t, f.provider.Tokens)
}

func TestReconcile_MissingOwnerIsDropped(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.rec.Reconcile(context.Background(), domain.SponsorshipJob{OwnerID: "gone", Sponsor: "alice", Amount: 1}))
	assert.Empty(t, f.provider.Calls())
}

func TestReconcile_AuditFailureDoesNotFailJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AuditErr = errors.New("audit down")

	require.NoError(t, f.rec.Reconcile(ctx, domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(10)}))
	assert.Equal(t, []string{"octo/r1"}, f.provider.Access("alice"))
}

func TestResyncOwner_EnqueuesEverySponsor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.Sponsors = []domain.Sponsor{
		{Login: "alice", Amount: domain.Dollars(10)},
		{Login: "bob", Amount: domain.Dollars(25)},
	}

	require.NoError(t, f.rec.ResyncOwner(ctx, domain.TierResyncJob{OwnerID: f.owner.ID}))
	assert.Equal(t, []domain.Job{
		domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "alice", Amount: domain.Dollars(10)},
		domain.SponsorshipJob{OwnerID: f.owner.ID, Sponsor: "bob", Amount: domain.Dollars(25)},
	}, f.queue.Jobs())
}

func TestRevokeRepository(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.Sponsors = []domain.Sponsor{{Login: "alice", Amount: domain.Dollars(10)}, {Login: "bob", Amount: domain.Dollars(50)}}
	f.provider.Grant("octo/gone", "alice")
	f.provider.Grant("octo/gone", "bob")
	f.provider.Grant("octo/r1", "alice")

	require.NoError(t, f.rec.RevokeRepository(ctx, domain.RepositoryRemovedJob{OwnerID: f.owner.ID, OwnerOrOrg: "octo", Name: "gone"}))
	assert.Equal(t, []string{"octo/r1"}, f.provider.Access("alice"))
	assert.Empty(t, f.provider.Access("bob"))
	assert.Len(t, f.actions(t)[domain.AuditActionRemoveCollaborator], 2)
}
