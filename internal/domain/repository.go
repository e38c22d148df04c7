package domain

import "time"

// Tier is an entitlement level owned by exactly one owner
type Tier struct {
	ID           string
	OwnerID      string
	Title        string
	Description  string
	MinAmount    Amount
	Repositories []*Repository
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository represents a GitHub repository gated by a tier
type Repository struct {
	ID          string
	OwnerID     string
	OwnerOrOrg  string
	Name        string
	Description string
	TierID      *string // nil means not attached to any tier
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FullName returns "ownerOrOrg/name"
func (r *Repository) FullName() string {
	return r.OwnerOrOrg + "/" + r.Name
}

// Sponsor is a current sponsor as reported by the provider
type Sponsor struct {
	Login  string
	Amount Amount
}
