package domain

import "time"

// PendingTransaction is a sponsorship change held until its effective date
type PendingTransaction struct {
	ID            string
	OwnerID       string
	Sponsor       string
	Amount        Amount // 0 means full revocation
	EffectiveDate time.Time
	Done          bool
	CreatedAt     time.Time
}

// IsDue reports whether the transaction should be promoted at now
func (p *PendingTransaction) IsDue(now time.Time) bool {
	return !p.Done && !p.EffectiveDate.After(now)
}

// AuditAction is the kind of access mutation attempted
type AuditAction string

const (
	AuditActionAddCollaborator        AuditAction = "ADD_COLLABORATOR"
	AuditActionRemoveCollaborator     AuditAction = "REMOVE_COLLABORATOR"
	AuditActionFailAddCollaborator    AuditAction = "FAIL_ADD_COLLABORATOR"
	AuditActionFailRemoveCollaborator AuditAction = "FAIL_REMOVE_COLLABORATOR"
)

// AuditEntry is an append-only record of an access mutation attempt
type AuditEntry struct {
	ID         string
	OwnerID    string
	Action     AuditAction
	Repository string // "ownerOrOrg/name"
	Sponsor    string
	Timestamp  time.Time
}
