// Package eligibility computes which repositories a sponsor should be able
// to access for a given monthly contribution.
package eligibility

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
)

// TierSource loads an owner's tiers with their attached repositories
type TierSource interface {
	GetTiers(ctx context.Context, ownerID string) ([]*domain.Tier, error)
}

// Result partitions an owner's tiered repositories for one amount.
// Repositories without a tier appear in neither set.
type Result struct {
	Eligible   []*domain.Repository
	Ineligible []*domain.Repository
}

// Resolver computes eligibility from the owner's tiers
type Resolver struct {
	tiers TierSource
}

// NewResolver creates a new resolver
func NewResolver(tiers TierSource) *Resolver {
	return &Resolver{tiers: tiers}
}

// Resolve returns the repositories of tiers with MinAmount <= amount as
// eligible and the rest as ineligible. A zero amount is a cancellation and
// makes every tiered repository ineligible.
func (r *Resolver) Resolve(ctx context.Context, ownerID string, amount domain.Amount) (*Result, error) {
	tiers, err := r.tiers.GetTiers(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiers: %w", err)
	}
	return Partition(tiers, amount), nil
}

// Partition splits the tiers' repositories by amount
func Partition(tiers []*domain.Tier, amount domain.Amount) *Result {
	result := &Result{}
	seen := make(map[string]bool)

	for _, tier := range tiers {
		qualifies := !amount.IsZero() && tier.MinAmount <= amount
		for _, repo := range tier.Repositories {
			// a repository belongs to one tier; guard against inconsistent input
			if seen[repo.FullName()] {
				continue
			}
			seen[repo.FullName()] = true

			if qualifies {
				result.Eligible = append(result.Eligible, repo)
			} else {
				result.Ineligible = append(result.Ineligible, repo)
			}
		}
	}
	return result
}
