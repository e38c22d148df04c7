// Package providertest provides an in-memory provider for tests.
package providertest

import (
	"context"
	"sort"
	"sync"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/provider"
)

// Call records one mutating provider call
type Call struct {
	Op       string // "add" or "remove"
	Repo     string // ownerOrOrg/name
	Username string
}

// Fake is a provider.Factory and provider.Client whose collaborator lists
// live in memory. Add and remove are idempotent like the real provider.
type Fake struct {
	mu            sync.Mutex
	collaborators map[string]map[string]bool
	calls         []Call

	// Repositories lists repositories that exist; nil means all exist
	Repositories map[string]bool
	// Sponsors is returned by ListSponsors
	Sponsors []domain.Sponsor
	// Failures maps "ownerOrOrg/name" to the error returned for that repository
	Failures map[string]error
	// Tokens receives every token a client was built for
	Tokens []string
}

var (
	_ provider.Factory = (*Fake)(nil)
	_ provider.Client  = (*Fake)(nil)
)

// NewFake creates an empty fake provider
func NewFake() *Fake {
	return &Fake{
		collaborators: make(map[string]map[string]bool),
		Failures:      make(map[string]error),
	}
}

// Client returns the fake itself
func (f *Fake) Client(ownerID string, cred domain.Authenticated) provider.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tokens = append(f.Tokens, cred.Token())
	return f
}

func (f *Fake) AddCollaborator(ctx context.Context, ownerOrOrg, repo, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := ownerOrOrg + "/" + repo
	f.calls = append(f.calls, Call{Op: "add", Repo: key, Username: username})
	if err := f.Failures[key]; err != nil {
		return err
	}
	if f.collaborators[key] == nil {
		f.collaborators[key] = make(map[string]bool)
	}
	f.collaborators[key][username] = true
	return nil
}

func (f *Fake) RemoveCollaborator(ctx context.Context, ownerOrOrg, repo, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := ownerOrOrg + "/" + repo
	f.calls = append(f.calls, Call{Op: "remove", Repo: key, Username: username})
	if err := f.Failures[key]; err != nil {
		return err
	}
	delete(f.collaborators[key], username)
	return nil
}

func (f *Fake) RepositoryExists(ctx context.Context, ownerOrOrg, repo string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Repositories == nil {
		return true, nil
	}
	return f.Repositories[ownerOrOrg+"/"+repo], nil
}

func (f *Fake) ListSponsors(ctx context.Context) ([]domain.Sponsor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Sponsor(nil), f.Sponsors...), nil
}

// Access returns the sorted set of repositories username can access
func (f *Fake) Access(username string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var repos []string
	for repo, users := range f.collaborators {
		if users[username] {
			repos = append(repos, repo)
		}
	}
	sort.Strings(repos)
	return repos
}

// Grant marks username as an existing collaborator without recording a call
func (f *Fake) Grant(repo, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collaborators[repo] == nil {
		f.collaborators[repo] = make(map[string]bool)
	}
	f.collaborators[repo][username] = true
}

// Calls returns the recorded mutating calls
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
