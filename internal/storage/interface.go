package storage

import (
	"context"
	"time"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
)

// Storage is the abstract interface for the persistence layer.
// Lookups of a missing row return an apperrors NOT_FOUND error.
type Storage interface {
	// Owner operations
	SaveOwner(ctx context.Context, owner *domain.Owner) error
	GetOwner(ctx context.Context, id string) (*domain.Owner, error)
	GetOwnerByLogin(ctx context.Context, login string) (*domain.Owner, error)

	// Tier operations. GetTiers populates Tier.Repositories.
	SaveTier(ctx context.Context, tier *domain.Tier) error
	GetTier(ctx context.Context, ownerID, tierID string) (*domain.Tier, error)
	GetTiers(ctx context.Context, ownerID string) ([]*domain.Tier, error)
	DeleteTier(ctx context.Context, ownerID, tierID string) error

	// Repository operations. SaveRepository upserts on (owner, ownerOrOrg, name)
	// so attaching an existing repository to another tier moves it.
	SaveRepository(ctx context.Context, repo *domain.Repository) error
	GetRepositories(ctx context.Context, ownerID string) ([]*domain.Repository, error)
	DeleteRepository(ctx context.Context, ownerID, ownerOrOrg, name string) error

	// Pending transaction operations
	SavePendingTransaction(ctx context.Context, tx *domain.PendingTransaction) error
	GetDuePendingTransactions(ctx context.Context, now time.Time) ([]*domain.PendingTransaction, error)
	// MarkPendingTransactionDone flips done from false to true and reports
	// whether this call performed the transition.
	MarkPendingTransactionDone(ctx context.Context, id string) (bool, error)

	// Audit log operations
	SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
	GetAuditEntries(ctx context.Context, ownerID string, limit int) ([]*domain.AuditEntry, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
