// Package memory provides an in-memory implementation of storage.Storage.
// It is intended for tests and single-process development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage"
)

var _ storage.Storage = (*Storage)(nil)

// Storage implements storage.Storage using in-memory maps
type Storage struct {
	mu      sync.RWMutex
	owners  map[string]*domain.Owner
	tiers   map[string]*domain.Tier
	repos   map[string]*domain.Repository // keyed by ownerID/ownerOrOrg/name
	pending map[string]*domain.PendingTransaction
	audit   []*domain.AuditEntry

	// AuditErr, when set, is returned by SaveAuditEntry
	AuditErr error
}

// New creates a new in-memory storage
func New() *Storage {
	return &Storage{
		owners:  make(map[string]*domain.Owner),
		tiers:   make(map[string]*domain.Tier),
		repos:   make(map[string]*domain.Repository),
		pending: make(map[string]*domain.PendingTransaction),
	}
}

func repoKey(ownerID, ownerOrOrg, name string) string {
	return ownerID + "/" + ownerOrOrg + "/" + name
}

// Migrate is a no-op
func (s *Storage) Migrate(ctx context.Context) error { return nil }

// Close is a no-op
func (s *Storage) Close() error { return nil }

func (s *Storage) SaveOwner(ctx context.Context, owner *domain.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, existing := range s.owners {
		if existing.Login == owner.Login {
			owner.ID = existing.ID
			owner.CreatedAt = existing.CreatedAt
		}
	}
	if owner.ID == "" {
		owner.ID = uuid.New().String()
	}
	if owner.CreatedAt.IsZero() {
		owner.CreatedAt = now
	}
	owner.UpdatedAt = now

	ownerCopy := *owner
	s.owners[owner.ID] = &ownerCopy
	return nil
}

func (s *Storage) GetOwner(ctx context.Context, id string) (*domain.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("owner")
	}
	ownerCopy := *owner
	return &ownerCopy, nil
}

func (s *Storage) GetOwnerByLogin(ctx context.Context, login string) (*domain.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, owner := range s.owners {
		if owner.Login == login {
			ownerCopy := *owner
			return &ownerCopy, nil
		}
	}
	return nil, apperrors.NewNotFoundError("owner")
}

func (s *Storage) SaveTier(ctx context.Context, tier *domain.Tier) error {
	if tier.MinAmount < 0 {
		return apperrors.NewValidationError("tier minimum amount must not be negative", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if tier.ID == "" {
		tier.ID = uuid.New().String()
	}
	if tier.CreatedAt.IsZero() {
		tier.CreatedAt = now
	}
	tier.UpdatedAt = now

	tierCopy := *tier
	tierCopy.Repositories = nil
	s.tiers[tier.ID] = &tierCopy
	return nil
}

func (s *Storage) GetTier(ctx context.Context, ownerID, tierID string) (*domain.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tier, ok := s.tiers[tierID]
	if !ok || tier.OwnerID != ownerID {
		return nil, apperrors.NewNotFoundError("tier")
	}
	tierCopy := *tier
	return &tierCopy, nil
}

func (s *Storage) GetTiers(ctx context.Context, ownerID string) ([]*domain.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tiers []*domain.Tier
	byID := make(map[string]*domain.Tier)
	for _, tier := range s.tiers {
		if tier.OwnerID != ownerID {
			continue
		}
		tierCopy := *tier
		tiers = append(tiers, &tierCopy)
		byID[tier.ID] = &tierCopy
	}
	for _, repo := range s.sortedRepos(ownerID) {
		if repo.TierID == nil {
			continue
		}
		if tier, ok := byID[*repo.TierID]; ok {
			tier.Repositories = append(tier.Repositories, repo)
		}
	}

	sort.Slice(tiers, func(i, j int) bool {
		if tiers[i].MinAmount != tiers[j].MinAmount {
			return tiers[i].MinAmount < tiers[j].MinAmount
		}
		return tiers[i].CreatedAt.Before(tiers[j].CreatedAt)
	})
	return tiers, nil
}

func (s *Storage) DeleteTier(ctx context.Context, ownerID, tierID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, ok := s.tiers[tierID]
	if !ok || tier.OwnerID != ownerID {
		return apperrors.NewNotFoundError("tier")
	}
	delete(s.tiers, tierID)

	for _, repo := range s.repos {
		if repo.TierID != nil && *repo.TierID == tierID {
			repo.TierID = nil
		}
	}
	return nil
}

func (s *Storage) SaveRepository(ctx context.Context, repo *domain.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := repoKey(repo.OwnerID, repo.OwnerOrOrg, repo.Name)
	if existing, ok := s.repos[key]; ok {
		repo.ID = existing.ID
		repo.CreatedAt = existing.CreatedAt
		if repo.Description == "" {
			repo.Description = existing.Description
		}
	}
	if repo.ID == "" {
		repo.ID = uuid.New().String()
	}
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now

	repoCopy := *repo
	if repo.TierID != nil {
		tierID := *repo.TierID
		repoCopy.TierID = &tierID
	}
	s.repos[key] = &repoCopy
	return nil
}

func (s *Storage) GetRepositories(ctx context.Context, ownerID string) ([]*domain.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedRepos(ownerID), nil
}

// sortedRepos returns copies of an owner's repositories; callers hold mu
func (s *Storage) sortedRepos(ownerID string) []*domain.Repository {
	var repos []*domain.Repository
	for _, repo := range s.repos {
		if repo.OwnerID != ownerID {
			continue
		}
		repoCopy := *repo
		if repo.TierID != nil {
			tierID := *repo.TierID
			repoCopy.TierID = &tierID
		}
		repos = append(repos, &repoCopy)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].FullName() < repos[j].FullName() })
	return repos
}

func (s *Storage) DeleteRepository(ctx context.Context, ownerID, ownerOrOrg, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := repoKey(ownerID, ownerOrOrg, name)
	if _, ok := s.repos[key]; !ok {
		return apperrors.NewNotFoundError("repository")
	}
	delete(s.repos, key)
	return nil
}

func (s *Storage) SavePendingTransaction(ctx context.Context, tx *domain.PendingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	txCopy := *tx
	s.pending[tx.ID] = &txCopy
	return nil
}

func (s *Storage) GetDuePendingTransactions(ctx context.Context, now time.Time) ([]*domain.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txs []*domain.PendingTransaction
	for _, tx := range s.pending {
		if tx.IsDue(now) {
			txCopy := *tx
			txs = append(txs, &txCopy)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].EffectiveDate.Before(txs[j].EffectiveDate) })
	return txs, nil
}

func (s *Storage) MarkPendingTransactionDone(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.pending[id]
	if !ok {
		return false, apperrors.NewNotFoundError("pending transaction")
	}
	if tx.Done {
		return false, nil
	}
	tx.Done = true
	return true, nil
}

// PendingTransaction returns a copy of a stored pending transaction
func (s *Storage) PendingTransaction(id string) (*domain.PendingTransaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	txCopy := *tx
	return &txCopy, true
}

func (s *Storage) SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AuditErr != nil {
		return s.AuditErr
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entryCopy := *entry
	s.audit = append(s.audit, &entryCopy)
	return nil
}

func (s *Storage) GetAuditEntries(ctx context.Context, ownerID string, limit int) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var entries []*domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.audit[i].OwnerID == ownerID {
			entryCopy := *s.audit[i]
			entries = append(entries, &entryCopy)
		}
	}
	return entries, nil
}
