// Package reconciler makes a sponsor's collaborator access on the provider
// match the eligibility computed from the owner's tiers.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/sponsor-access-sync/internal/audit"
	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/eligibility"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
	"github.com/kurihiro0119/sponsor-access-sync/internal/logging"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	"github.com/kurihiro0119/sponsor-access-sync/internal/provider"
	"github.com/kurihiro0119/sponsor-access-sync/internal/queue"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage"
)

const (
	opAdd    = "add"
	opRemove = "remove"
)

// Reconciler applies sponsorship jobs against the provider
type Reconciler struct {
	store     storage.Storage
	resolver  *eligibility.Resolver
	providers provider.Factory
	audit     *audit.Log
	enqueuer  queue.Enqueuer
	metrics   metrics.Recorder
	logger    zerolog.Logger
}

// New creates a new reconciler. enqueuer receives the per-sponsor jobs
// fanned out by ResyncOwner.
func New(store storage.Storage, providers provider.Factory, enqueuer queue.Enqueuer, recorder metrics.Recorder, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		resolver:  eligibility.NewResolver(store),
		providers: providers,
		audit:     audit.NewLog(store, logger),
		enqueuer:  enqueuer,
		metrics:   metrics.OrNoop(recorder),
		logger:    logging.Component(logger, "reconciler"),
	}
}

// Reconcile grants the sponsor every eligible repository and revokes every
// ineligible one. A failure on one repository is audited and does not stop
// the others. A revoked token aborts the job with a retryable error; a
// timeout or rate limit fails the job after the remaining repositories
// were tried, so the queue redelivers it.
func (r *Reconciler) Reconcile(ctx context.Context, job domain.SponsorshipJob) error {
	owner, client, err := r.ownerClient(ctx, job.OwnerID)
	if err != nil || owner == nil {
		return err
	}

	result, err := r.resolver.Resolve(ctx, owner.ID, job.Amount)
	if err != nil {
		return err
	}

	log := r.logger.With().
		Str("owner", owner.Login).
		Str("sponsor", job.Sponsor).
		Stringer("amount", job.Amount).
		Logger()
	log.Info().
		Int("eligible", len(result.Eligible)).
		Int("ineligible", len(result.Ineligible)).
		Msg("reconciling sponsor")

	var retry error
	for _, repo := range result.Eligible {
		if err := r.apply(ctx, client, owner.ID, opAdd, repo, job.Sponsor, &retry); err != nil {
			return err
		}
	}
	for _, repo := range result.Ineligible {
		if err := r.apply(ctx, client, owner.ID, opRemove, repo, job.Sponsor, &retry); err != nil {
			return err
		}
	}
	if retry != nil {
		return fmt.Errorf("access for %s left incomplete: %w", job.Sponsor, retry)
	}
	return nil
}

// ResyncOwner enqueues one sponsorship job per current sponsor, so every
// sponsor is reconciled against the owner's latest tiers.
func (r *Reconciler) ResyncOwner(ctx context.Context, job domain.TierResyncJob) error {
	owner, client, err := r.ownerClient(ctx, job.OwnerID)
	if err != nil || owner == nil {
		return err
	}

	sponsors, err := client.ListSponsors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sponsors for %s: %w", owner.Login, err)
	}

	for _, sponsor := range sponsors {
		next := domain.SponsorshipJob{OwnerID: owner.ID, Sponsor: sponsor.Login, Amount: sponsor.Amount}
		if err := r.enqueuer.Enqueue(ctx, next); err != nil {
			return fmt.Errorf("failed to enqueue resync for %s: %w", sponsor.Login, err)
		}
	}

	r.logger.Info().
		Str("owner", owner.Login).
		Int("sponsors", len(sponsors)).
		Msg("queued sponsor resync")
	return nil
}

// RevokeRepository removes every current sponsor from a repository that
// is no longer gated by a tier.
func (r *Reconciler) RevokeRepository(ctx context.Context, job domain.RepositoryRemovedJob) error {
	owner, client, err := r.ownerClient(ctx, job.OwnerID)
	if err != nil || owner == nil {
		return err
	}

	sponsors, err := client.ListSponsors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sponsors for %s: %w", owner.Login, err)
	}

	repo := &domain.Repository{OwnerID: owner.ID, OwnerOrOrg: job.OwnerOrOrg, Name: job.Name}
	var retry error
	for _, sponsor := range sponsors {
		if err := r.apply(ctx, client, owner.ID, opRemove, repo, sponsor.Login, &retry); err != nil {
			return err
		}
	}
	if retry != nil {
		return fmt.Errorf("revoking %s left incomplete: %w", repo.FullName(), retry)
	}

	r.logger.Info().
		Str("owner", owner.Login).
		Str("repository", repo.FullName()).
		Int("sponsors", len(sponsors)).
		Msg("revoked sponsors from removed repository")
	return nil
}

// ownerClient loads the owner and builds its provider client. A missing
// owner returns (nil, nil, nil): there is nothing left to reconcile.
func (r *Reconciler) ownerClient(ctx context.Context, ownerID string) (*domain.Owner, provider.Client, error) {
	owner, err := r.store.GetOwner(ctx, ownerID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			r.logger.Warn().Str("owner_id", ownerID).Msg("owner no longer exists, dropping job")
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to load owner: %w", err)
	}

	switch cred := owner.Credential.(type) {
	case domain.Authenticated:
		return owner, r.providers.Client(owner.ID, cred), nil
	case domain.Unauthenticated, nil:
		return nil, nil, apperrors.NewPermanentError(
			fmt.Sprintf("owner %s has no provider token", owner.Login), nil)
	default:
		panic(fmt.Sprintf("unknown credential type %T", cred))
	}
}

// apply performs one grant or revoke and audits the outcome. An
// unauthenticated error is returned and aborts the job. The first timeout
// or rate limit is kept in retry; other failures are isolated.
func (r *Reconciler) apply(ctx context.Context, client provider.Client, ownerID, op string, repo *domain.Repository, sponsor string, retry *error) error {
	var err error
	var ok, failed domain.AuditAction
	switch op {
	case opAdd:
		err = client.AddCollaborator(ctx, repo.OwnerOrOrg, repo.Name, sponsor)
		ok, failed = domain.AuditActionAddCollaborator, domain.AuditActionFailAddCollaborator
	case opRemove:
		err = client.RemoveCollaborator(ctx, repo.OwnerOrOrg, repo.Name, sponsor)
		ok, failed = domain.AuditActionRemoveCollaborator, domain.AuditActionFailRemoveCollaborator
	}

	if err == nil {
		r.audit.Record(ctx, ownerID, ok, repo, sponsor)
		r.metrics.RecordCollaboratorOperation(op, "success")
		return nil
	}

	r.audit.Record(ctx, ownerID, failed, repo, sponsor)
	r.metrics.RecordCollaboratorOperation(op, "failure")
	r.logger.Error().
		Err(err).
		Str("operation", op).
		Str("repository", repo.FullName()).
		Str("sponsor", sponsor).
		Msg("collaborator operation failed")

	if apperrors.IsUnauthenticated(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if *retry == nil && transient(err) {
		*retry = err
	}
	return nil
}

// transient reports failures that a later attempt can fix
func transient(err error) bool {
	if apperrors.IsRateLimited(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
