package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS owners (
		id TEXT PRIMARY KEY,
		login TEXT NOT NULL UNIQUE,
		webhook_secret TEXT NOT NULL,
		access_token TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tiers (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES owners(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		min_amount BIGINT NOT NULL CHECK (min_amount >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_tiers_owner ON tiers(owner_id);

	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES owners(id),
		owner_or_org TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		tier_id TEXT REFERENCES tiers(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (owner_id, owner_or_org, name)
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_owner ON repositories(owner_id);
	CREATE INDEX IF NOT EXISTS idx_repositories_tier ON repositories(tier_id);

	CREATE TABLE IF NOT EXISTS pending_transactions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES owners(id),
		sponsor TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount >= 0),
		effective_date TIMESTAMPTZ NOT NULL,
		done BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_pending_due ON pending_transactions(done, effective_date);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		action TEXT NOT NULL,
		repository TEXT NOT NULL,
		sponsor TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_owner_timestamp ON audit_entries(owner_id, timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveOwner inserts or updates an owner keyed by login
func (s *postgresStorage) SaveOwner(ctx context.Context, owner *domain.Owner) error {
	now := time.Now().UTC()
	if owner.ID == "" {
		owner.ID = uuid.New().String()
	}
	if owner.CreatedAt.IsZero() {
		owner.CreatedAt = now
	}
	owner.UpdatedAt = now

	var token sql.NullString
	if t := owner.AccessToken(); t != "" {
		token = sql.NullString{String: t, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owners (id, login, webhook_secret, access_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (login) DO UPDATE SET
			webhook_secret = excluded.webhook_secret,
			access_token = excluded.access_token,
			updated_at = excluded.updated_at
	`, owner.ID, owner.Login, owner.WebhookSecret, token, owner.CreatedAt, owner.UpdatedAt)
	if err != nil {
		return err
	}

	// the row may predate this call with a different id
	return s.db.QueryRowContext(ctx, `SELECT id FROM owners WHERE login = $1`, owner.Login).Scan(&owner.ID)
}

// GetOwner retrieves an owner by id
func (s *postgresStorage) GetOwner(ctx context.Context, id string) (*domain.Owner, error) {
	return s.getOwner(ctx, `WHERE id = $1`, id)
}

// GetOwnerByLogin retrieves an owner by login
func (s *postgresStorage) GetOwnerByLogin(ctx context.Context, login string) (*domain.Owner, error) {
	return s.getOwner(ctx, `WHERE login = $1`, login)
}

func (s *postgresStorage) getOwner(ctx context.Context, where string, arg string) (*domain.Owner, error) {
	var (
		owner domain.Owner
		token sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, login, webhook_secret, access_token, created_at, updated_at
		FROM owners `+where, arg).Scan(
		&owner.ID, &owner.Login, &owner.WebhookSecret, &token, &owner.CreatedAt, &owner.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("owner")
	}
	if err != nil {
		return nil, err
	}
	owner.Credential = domain.NewCredential(token.String)
	return &owner, nil
}

// SaveTier inserts or updates a tier
func (s *postgresStorage) SaveTier(ctx context.Context, tier *domain.Tier) error {
	if tier.MinAmount < 0 {
		return apperrors.NewValidationError("tier minimum amount must not be negative", nil)
	}
	now := time.Now().UTC()
	if tier.ID == "" {
		tier.ID = uuid.New().String()
	}
	if tier.CreatedAt.IsZero() {
		tier.CreatedAt = now
	}
	tier.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tiers (id, owner_id, title, description, min_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			min_amount = excluded.min_amount,
			updated_at = excluded.updated_at
	`, tier.ID, tier.OwnerID, tier.Title, tier.Description, int64(tier.MinAmount), tier.CreatedAt, tier.UpdatedAt)
	return err
}

// GetTier retrieves one tier of an owner, without repositories
func (s *postgresStorage) GetTier(ctx context.Context, ownerID, tierID string) (*domain.Tier, error) {
	var (
		tier      domain.Tier
		minAmount int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description, min_amount, created_at, updated_at
		FROM tiers WHERE owner_id = $1 AND id = $2
	`, ownerID, tierID).Scan(
		&tier.ID, &tier.OwnerID, &tier.Title, &tier.Description, &minAmount, &tier.CreatedAt, &tier.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("tier")
	}
	if err != nil {
		return nil, err
	}
	tier.MinAmount = domain.Amount(minAmount)
	return &tier, nil
}

// GetTiers retrieves all tiers of an owner with their repositories
func (s *postgresStorage) GetTiers(ctx context.Context, ownerID string) ([]*domain.Tier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, description, min_amount, created_at, updated_at
		FROM tiers WHERE owner_id = $1
		ORDER BY min_amount, created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []*domain.Tier
	byID := make(map[string]*domain.Tier)
	for rows.Next() {
		var (
			tier      domain.Tier
			minAmount int64
		)
		if err := rows.Scan(&tier.ID, &tier.OwnerID, &tier.Title, &tier.Description, &minAmount, &tier.CreatedAt, &tier.UpdatedAt); err != nil {
			return nil, err
		}
		tier.MinAmount = domain.Amount(minAmount)
		tiers = append(tiers, &tier)
		byID[tier.ID] = &tier
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	repos, err := s.GetRepositories(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, repo := range repos {
		if repo.TierID == nil {
			continue
		}
		if tier, ok := byID[*repo.TierID]; ok {
			tier.Repositories = append(tier.Repositories, repo)
		}
	}

	return tiers, nil
}

// DeleteTier deletes a tier; its repositories become unattached
func (s *postgresStorage) DeleteTier(ctx context.Context, ownerID, tierID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE repositories SET tier_id = NULL WHERE owner_id = $1 AND tier_id = $2`, ownerID, tierID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM tiers WHERE owner_id = $1 AND id = $2`, ownerID, tierID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("tier")
	}

	return tx.Commit()
}

// SaveRepository upserts a repository on (owner, ownerOrOrg, name)
func (s *postgresStorage) SaveRepository(ctx context.Context, repo *domain.Repository) error {
	now := time.Now().UTC()
	if repo.ID == "" {
		repo.ID = uuid.New().String()
	}
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, owner_id, owner_or_org, name, description, tier_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, owner_or_org, name) DO UPDATE SET
			tier_id = excluded.tier_id,
			description = CASE WHEN excluded.description <> '' THEN excluded.description ELSE repositories.description END,
			updated_at = excluded.updated_at
	`, repo.ID, repo.OwnerID, repo.OwnerOrOrg, repo.Name, repo.Description, repo.TierID, repo.CreatedAt, repo.UpdatedAt)
	if err != nil {
		return err
	}

	return s.db.QueryRowContext(ctx, `
		SELECT id FROM repositories WHERE owner_id = $1 AND owner_or_org = $2 AND name = $3
	`, repo.OwnerID, repo.OwnerOrOrg, repo.Name).Scan(&repo.ID)
}

// GetRepositories retrieves all repositories of an owner
func (s *postgresStorage) GetRepositories(ctx context.Context, ownerID string) ([]*domain.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, owner_or_org, name, description, tier_id, created_at, updated_at
		FROM repositories WHERE owner_id = $1
		ORDER BY owner_or_org, name
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*domain.Repository
	for rows.Next() {
		var (
			repo   domain.Repository
			tierID sql.NullString
		)
		if err := rows.Scan(&repo.ID, &repo.OwnerID, &repo.OwnerOrOrg, &repo.Name, &repo.Description, &tierID, &repo.CreatedAt, &repo.UpdatedAt); err != nil {
			return nil, err
		}
		if tierID.Valid {
			id := tierID.String
			repo.TierID = &id
		}
		repos = append(repos, &repo)
	}
	return repos, rows.Err()
}

// DeleteRepository deletes a repository of an owner
func (s *postgresStorage) DeleteRepository(ctx context.Context, ownerID, ownerOrOrg, name string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM repositories WHERE owner_id = $1 AND owner_or_org = $2 AND name = $3
	`, ownerID, ownerOrOrg, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("repository")
	}
	return nil
}

// SavePendingTransaction inserts a pending transaction
func (s *postgresStorage) SavePendingTransaction(ctx context.Context, tx *domain.PendingTransaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_transactions (id, owner_id, sponsor, amount, effective_date, done, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tx.ID, tx.OwnerID, tx.Sponsor, int64(tx.Amount), tx.EffectiveDate.UTC(), tx.Done, tx.CreatedAt)
	return err
}

// GetDuePendingTransactions retrieves undone transactions effective at or before now
func (s *postgresStorage) GetDuePendingTransactions(ctx context.Context, now time.Time) ([]*domain.PendingTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, sponsor, amount, effective_date, done, created_at
		FROM pending_transactions
		WHERE done = FALSE AND effective_date <= $1
		ORDER BY effective_date
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.PendingTransaction
	for rows.Next() {
		var (
			tx     domain.PendingTransaction
			amount int64
		)
		if err := rows.Scan(&tx.ID, &tx.OwnerID, &tx.Sponsor, &amount, &tx.EffectiveDate, &tx.Done, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Amount = domain.Amount(amount)
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// MarkPendingTransactionDone sets done only if it was not already set
func (s *postgresStorage) MarkPendingTransactionDone(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE pending_transactions SET done = TRUE WHERE id = $1 AND done = FALSE`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// SaveAuditEntry appends an audit entry
func (s *postgresStorage) SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, owner_id, action, repository, sponsor, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.OwnerID, string(entry.Action), entry.Repository, entry.Sponsor, entry.Timestamp.UTC())
	return err
}

// GetAuditEntries retrieves the latest audit entries of an owner, newest first
func (s *postgresStorage) GetAuditEntries(ctx context.Context, ownerID string, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, action, repository, sponsor, timestamp
		FROM audit_entries WHERE owner_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var (
			entry  domain.AuditEntry
			action string
		)
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &action, &entry.Repository, &entry.Sponsor, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Action = domain.AuditAction(action)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
