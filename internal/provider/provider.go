package provider

import (
	"context"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
)

// Client performs access-control operations on behalf of one authenticated
// owner. All operations are idempotent on the provider side.
type Client interface {
	// AddCollaborator grants username read access to ownerOrOrg/repo
	AddCollaborator(ctx context.Context, ownerOrOrg, repo, username string) error

	// RemoveCollaborator revokes username's access to ownerOrOrg/repo
	RemoveCollaborator(ctx context.Context, ownerOrOrg, repo, username string) error

	// RepositoryExists reports whether ownerOrOrg/repo is visible to the owner
	RepositoryExists(ctx context.Context, ownerOrOrg, repo string) (bool, error)

	// ListSponsors returns every active sponsor of the authenticated owner
	ListSponsors(ctx context.Context) ([]domain.Sponsor, error)
}

// Factory builds clients. Only an Authenticated credential can produce a
// Client, so provider calls without a token cannot be expressed.
type Factory interface {
	Client(ownerID string, cred domain.Authenticated) Client
}
