// Package github implements provider.Client against the GitHub REST and
// GraphQL APIs.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
	"github.com/kurihiro0119/sponsor-access-sync/internal/provider"
)

const (
	defaultGraphQLURL = "https://api.github.com/graphql"

	// collaboratorPermission is granted to eligible sponsors
	collaboratorPermission = "pull"

	sponsorsPageSize = 100
)

// Options configures the GitHub provider
type Options struct {
	// BaseURL overrides the REST endpoint, e.g. for GitHub Enterprise or tests
	BaseURL string
	// GraphQLURL overrides the GraphQL endpoint; derived from BaseURL when empty
	GraphQLURL string
	// Timeout bounds every HTTP request
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Factory builds GitHub clients and shares one rate limiter per token
type Factory struct {
	baseURL    *url.URL
	graphqlURL string
	timeout    time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	budgets map[string]*tokenBudget
}

// tokenBudget is the budget of an owner's current token
type tokenBudget struct {
	token  string
	budget *budget
}

var _ provider.Factory = (*Factory)(nil)

// NewFactory creates a new GitHub provider factory
func NewFactory(opts Options) (*Factory, error) {
	f := &Factory{
		graphqlURL: opts.GraphQLURL,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		budgets:    make(map[string]*tokenBudget),
	}

	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GitHub base URL: %w", err)
		}
		f.baseURL = u
		if f.graphqlURL == "" {
			f.graphqlURL = graphQLEndpoint(u)
		}
	}
	if f.graphqlURL == "" {
		f.graphqlURL = defaultGraphQLURL
	}
	return f, nil
}

// Client returns a provider client bound to the credential's token. A new
// token for the same owner replaces the budget of the old one.
func (f *Factory) Client(ownerID string, cred domain.Authenticated) provider.Client {
	f.mu.Lock()
	entry, ok := f.budgets[ownerID]
	if !ok || entry.token != cred.Token() {
		entry = &tokenBudget{
			token:  cred.Token(),
			budget: newBudget(f.logger.With().Str("owner_id", ownerID).Logger()),
		}
		f.budgets[ownerID] = entry
	}
	f.mu.Unlock()

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cred.Token()},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	if f.timeout > 0 {
		tc.Timeout = f.timeout
	}
	client := github.NewClient(tc)
	if f.baseURL != nil {
		base := *f.baseURL
		client.BaseURL = &base
	}

	return &githubClient{
		client:     client,
		graphqlURL: f.graphqlURL,
		budget:     entry.budget,
	}
}

// githubClient implements provider.Client using the GitHub API
type githubClient struct {
	client     *github.Client
	graphqlURL string
	budget     *budget
}

// graphQLEndpoint maps a REST base URL to its GraphQL endpoint.
// GitHub Enterprise serves REST under /api/v3/ and GraphQL under /api/graphql.
func graphQLEndpoint(base *url.URL) string {
	u := *base
	if strings.HasSuffix(u.Path, "/api/v3/") {
		u.Path = strings.TrimSuffix(u.Path, "v3/") + "graphql"
	} else {
		u.Path += "graphql"
	}
	return u.String()
}

// AddCollaborator invites username with pull permission. Re-adding an
// existing collaborator succeeds without side effects.
func (c *githubClient) AddCollaborator(ctx context.Context, ownerOrOrg, repo, username string) error {
	if err := c.budget.Acquire(ctx); err != nil {
		return err
	}

	_, resp, err := c.client.Repositories.AddCollaborator(ctx, ownerOrOrg, repo, username, &github.RepositoryAddCollaboratorOptions{
		Permission: collaboratorPermission,
	})
	c.observe(resp)
	if err != nil {
		return classify(fmt.Sprintf("failed to add collaborator %s to %s/%s", username, ownerOrOrg, repo), resp, err)
	}
	return nil
}

// RemoveCollaborator removes username from the repository. Removing a user
// that is not a collaborator succeeds.
func (c *githubClient) RemoveCollaborator(ctx context.Context, ownerOrOrg, repo, username string) error {
	if err := c.budget.Acquire(ctx); err != nil {
		return err
	}

	resp, err := c.client.Repositories.RemoveCollaborator(ctx, ownerOrOrg, repo, username)
	c.observe(resp)
	if err != nil {
		return classify(fmt.Sprintf("failed to remove collaborator %s from %s/%s", username, ownerOrOrg, repo), resp, err)
	}
	return nil
}

// RepositoryExists reports whether the repository is visible to the token
func (c *githubClient) RepositoryExists(ctx context.Context, ownerOrOrg, repo string) (bool, error) {
	if err := c.budget.Acquire(ctx); err != nil {
		return false, err
	}

	_, resp, err := c.client.Repositories.Get(ctx, ownerOrOrg, repo)
	c.observe(resp)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, classify(fmt.Sprintf("failed to get repository %s/%s", ownerOrOrg, repo), resp, err)
	}
	return true, nil
}

const sponsorsQuery = `query($first: Int!, $after: String) {
  viewer {
    sponsorshipsAsMaintainer(first: $first, after: $after, activeOnly: true) {
      pageInfo { hasNextPage endCursor }
      nodes {
        sponsorEntity {
          ... on User { login }
          ... on Organization { login }
        }
        tier { monthlyPriceInCents }
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type sponsorsResponse struct {
	Data struct {
		Viewer struct {
			SponsorshipsAsMaintainer struct {
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
				Nodes []struct {
					SponsorEntity struct {
						Login string `json:"login"`
					} `json:"sponsorEntity"`
					Tier *struct {
						MonthlyPriceInCents int64 `json:"monthlyPriceInCents"`
					} `json:"tier"`
				} `json:"nodes"`
			} `json:"sponsorshipsAsMaintainer"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ListSponsors pages through the viewer's active sponsorships
func (c *githubClient) ListSponsors(ctx context.Context) ([]domain.Sponsor, error) {
	var sponsors []domain.Sponsor
	var cursor *string

	for {
		if err := c.budget.Acquire(ctx); err != nil {
			return nil, err
		}

		page, err := c.sponsorsPage(ctx, cursor)
		if err != nil {
			return nil, err
		}

		conn := page.Data.Viewer.SponsorshipsAsMaintainer
		for _, node := range conn.Nodes {
			login := node.SponsorEntity.Login
			if login == "" {
				continue
			}
			var amount domain.Amount
			if node.Tier != nil {
				amount = domain.Amount(node.Tier.MonthlyPriceInCents)
			}
			sponsors = append(sponsors, domain.Sponsor{Login: login, Amount: amount})
		}

		if !conn.PageInfo.HasNextPage || conn.PageInfo.EndCursor == "" {
			break
		}
		next := conn.PageInfo.EndCursor
		cursor = &next
	}

	return sponsors, nil
}

func (c *githubClient) sponsorsPage(ctx context.Context, cursor *string) (*sponsorsResponse, error) {
	vars := map[string]any{"first": sponsorsPageSize}
	if cursor != nil {
		vars["after"] = *cursor
	}
	body, err := json.Marshal(graphQLRequest{Query: sponsorsQuery, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sponsors query: %w", err)
	}

	req, err := c.client.NewRequest(http.MethodPost, c.graphqlURL, json.RawMessage(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sponsors request: %w", err)
	}

	var buf bytes.Buffer
	resp, err := c.client.Do(ctx, req, &buf)
	c.observe(resp)
	if err != nil {
		return nil, classify("failed to list sponsors", resp, err)
	}

	var page sponsorsResponse
	if err := json.Unmarshal(buf.Bytes(), &page); err != nil {
		return nil, fmt.Errorf("failed to decode sponsors response: %w", err)
	}
	if len(page.Errors) > 0 {
		return nil, fmt.Errorf("failed to list sponsors: %s", page.Errors[0].Message)
	}
	return &page, nil
}

// classify maps GitHub failures onto the application error taxonomy.
// A 401 means the owner's token was revoked and the whole job must fail.
func classify(msg string, resp *github.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return apperrors.NewUnauthenticatedError(msg, err)
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperrors.NewRateLimitedUntilError(msg, rateErr.Rate.Reset.Time)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		if abuseErr.RetryAfter != nil && *abuseErr.RetryAfter > 0 {
			return apperrors.NewRateLimitedUntilError(msg, time.Now().Add(*abuseErr.RetryAfter))
		}
		return apperrors.NewRateLimitedError(msg)
	}

	return fmt.Errorf("%s: %w", msg, err)
}

// observe feeds the response's rate limit headers into the budget
func (c *githubClient) observe(resp *github.Response) {
	if resp == nil || resp.Response == nil || resp.Header.Get("X-RateLimit-Remaining") == "" {
		return
	}
	c.budget.Observe(resp.Rate)
}
