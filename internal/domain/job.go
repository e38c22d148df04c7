package domain

// JobKind identifies the kind of reconciliation work
type JobKind string

const (
	JobKindSponsorship       JobKind = "sponsorship"
	JobKindTierResync        JobKind = "tier_resync"
	JobKindRepositoryRemoved JobKind = "repository_removed"
)

// Job is a unit of queued reconciliation work. The set of implementations
// is closed: SponsorshipJob, TierResyncJob and RepositoryRemovedJob.
type Job interface {
	Kind() JobKind
	// Key groups jobs that must be applied in enqueue order
	Key() string
	job()
}

// SponsorshipJob reconciles one sponsor's access to the new amount
type SponsorshipJob struct {
	OwnerID string `json:"owner_id"`
	Sponsor string `json:"sponsor"`
	Amount  Amount `json:"amount"`
}

// TierResyncJob re-reconciles every current sponsor of an owner
type TierResyncJob struct {
	OwnerID string `json:"owner_id"`
}

// RepositoryRemovedJob revokes every current sponsor from a repository
type RepositoryRemovedJob struct {
	OwnerID    string `json:"owner_id"`
	OwnerOrOrg string `json:"owner_or_org"`
	Name       string `json:"name"`
}

func (SponsorshipJob) Kind() JobKind       { return JobKindSponsorship }
func (TierResyncJob) Kind() JobKind        { return JobKindTierResync }
func (RepositoryRemovedJob) Kind() JobKind { return JobKindRepositoryRemoved }

func (j SponsorshipJob) Key() string       { return j.OwnerID + "/" + j.Sponsor }
func (j TierResyncJob) Key() string        { return j.OwnerID }
func (j RepositoryRemovedJob) Key() string { return j.OwnerID + "/" + j.OwnerOrOrg + "/" + j.Name }

func (SponsorshipJob) job()       {}
func (TierResyncJob) job()        {}
func (RepositoryRemovedJob) job() {}
