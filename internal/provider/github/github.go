// Package github adapts GitHub.com and GitHub Enterprise Server to the
// provider.Adapter port using google/go-github for typed, paginated REST
// access instead of shelling out to the gh CLI.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	gogithub "github.com/google/go-github/v66/github"
	"golang.org/x/time/rate"

	"github.com/mgit-dev/mgit/internal/netretry"
	"github.com/mgit-dev/mgit/internal/provider"
)

func init() {
	provider.Register(provider.KindGitHub, func(acc provider.Account) (provider.Adapter, error) {
		return New(acc)
	})
}

// Adapter implements provider.Adapter for github.com and GHES.
type Adapter struct {
	account provider.Account
	client  *gogithub.Client
	limiter *rate.Limiter

	lastRate provider.RateLimit
	haveRate bool
}

// New builds a GitHub Adapter. account.BaseURL, when set, points at a
// GitHub Enterprise Server instance; an empty BaseURL targets github.com.
func New(account provider.Account) (*Adapter, error) {
	if account.Token == "" {
		return nil, fmt.Errorf("%w: github account %q has no token", provider.ErrConfig, account.Name)
	}

	a := &Adapter{
		account: account,
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &rateLimitedTransport{limiter: a.limiter, token: account.Token, base: http.DefaultTransport},
	}

	client := gogithub.NewClient(httpClient)
	if account.BaseURL != "" {
		base, err := url.Parse(account.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid github base url: %v", provider.ErrConfig, err)
		}
		client.BaseURL = base
	}
	a.client = client

	return a, nil
}

func (a *Adapter) Kind() provider.Kind     { return provider.KindGitHub }
func (a *Adapter) SupportsProjects() bool  { return false }
func (a *Adapter) RequiresProject() bool   { return false }

func (a *Adapter) Authenticate(ctx context.Context) error {
	_, resp, err := a.client.Users.Get(ctx, "")
	if err != nil {
		return classifyAPIErr(err, resp)
	}
	return nil
}

// TestConnection is a reachability-only probe: it never fails on bad
// credentials, only on the endpoint being unreachable or erroring server-side.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, resp, err := a.client.Zen(ctx)
	if err == nil {
		return true
	}
	return resp != nil && resp.StatusCode < http.StatusInternalServerError
}

// ListOrganizations streams the authenticated user's own account as a
// type=user pseudo-organization, followed by every organization the user
// belongs to, matching how "clone all of my repos" is expressed for GitHub.
func (a *Adapter) ListOrganizations(ctx context.Context) (<-chan provider.OrgOrError, error) {
	out := make(chan provider.OrgOrError)
	go func() {
		defer close(out)

		me, resp, err := a.client.Users.Get(ctx, "")
		if err != nil {
			send(ctx, out, provider.OrgOrError{Err: classifyAPIErr(err, resp)})
			return
		}
		if !send(ctx, out, provider.OrgOrError{Org: provider.Organization{Name: me.GetLogin(), Type: provider.OrgTypeUser}}) {
			return
		}

		opts := &gogithub.ListOptions{PerPage: 100}
		for {
			orgs, resp, err := a.client.Organizations.List(ctx, "", opts)
			if err != nil {
				send(ctx, out, provider.OrgOrError{Err: classifyAPIErr(err, resp)})
				return
			}
			for _, o := range orgs {
				org := provider.Organization{Name: o.GetLogin(), Type: provider.OrgTypeOrganization}
				if !send(ctx, out, provider.OrgOrError{Org: org}) {
					return
				}
			}
			if resp.NextPage == 0 {
				return
			}
			opts.Page = resp.NextPage
		}
	}()
	return out, nil
}

// ListProjects synthesizes a single project per organization: GitHub has
// no project tier between an org and its repositories.
func (a *Adapter) ListProjects(ctx context.Context, org string) (<-chan provider.ProjectOrError, error) {
	out := make(chan provider.ProjectOrError, 1)
	out <- provider.ProjectOrError{Project: provider.Project{Organization: org, Name: org}}
	close(out)
	return out, nil
}

// ListRepositories lists an organization's repositories, or (when org is
// the authenticated user's own login rather than a real GitHub org) that
// user's personal repositories. filters applies the mandatory
// language/archived/topics narrowing; GitHub's REST API accepts archived
// server-side, language and topics are matched client-side against the
// repository metadata already returned.
func (a *Adapter) ListRepositories(ctx context.Context, org, _ string, filters provider.RepositoryFilters) (<-chan provider.RepoOrError, error) {
	out := make(chan provider.RepoOrError)
	go func() {
		defer close(out)

		orgOpts := &gogithub.RepositoryListByOrgOptions{ListOptions: gogithub.ListOptions{PerPage: 100}}
		if filters.Archived != nil {
			// go-github has no archived filter on this endpoint; applied client-side below.
			_ = filters.Archived
		}
		useUserEndpoint := false
		opts := &gogithub.RepositoryListByAuthenticatedUserOptions{ListOptions: gogithub.ListOptions{PerPage: 100}}

		for {
			var (
				repos []*gogithub.Repository
				resp  *gogithub.Response
				err   error
			)
			if useUserEndpoint {
				opts.Visibility = "all"
				repos, resp, err = a.client.Repositories.ListByAuthenticatedUser(ctx, opts)
			} else {
				repos, resp, err = a.client.Repositories.ListByOrg(ctx, org, orgOpts)
				if err != nil && errors.Is(classifyAPIErr(err, resp), provider.ErrNotFound) {
					useUserEndpoint = true
					continue
				}
			}
			if err != nil {
				send(ctx, out, provider.RepoOrError{Err: classifyAPIErr(err, resp)})
				return
			}
			for _, r := range repos {
				if useUserEndpoint && r.GetOwner().GetLogin() != org {
					continue
				}
				rep := toRepository(org, r)
				if !filters.Matches(rep) {
					continue
				}
				if !send(ctx, out, provider.RepoOrError{Repo: rep}) {
					return
				}
			}
			a.recordRate(resp)
			nextPage := resp.NextPage
			if useUserEndpoint {
				if nextPage == 0 {
					return
				}
				opts.Page = nextPage
			} else {
				if nextPage == 0 {
					return
				}
				orgOpts.Page = nextPage
			}
		}
	}()
	return out, nil
}

// GetRepository returns a single repository, or (nil, nil) if none exists
// by that name in org.
func (a *Adapter) GetRepository(ctx context.Context, org, repo, _ string) (*provider.Repository, error) {
	r, resp, err := a.client.Repositories.Get(ctx, org, repo)
	if err != nil {
		cerr := classifyAPIErr(err, resp)
		if errors.Is(cerr, provider.ErrNotFound) {
			return nil, nil
		}
		return nil, cerr
	}
	rep := toRepository(org, r)
	return &rep, nil
}

// Close releases idle connections held by the underlying HTTP client.
func (a *Adapter) Close() error {
	a.client.Client().CloseIdleConnections()
	return nil
}

func (a *Adapter) AuthenticatedCloneURL(repo provider.Repository) (string, error) {
	u, err := url.Parse(repo.CloneURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrInvalidArgument, err)
	}
	u.User = url.UserPassword(a.account.Token, "x-oauth-basic")
	return u.String(), nil
}

func (a *Adapter) RateLimitInfo() (*provider.RateLimit, bool) {
	if !a.haveRate {
		return nil, false
	}
	rl := a.lastRate
	return &rl, true
}

func (a *Adapter) recordRate(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	a.lastRate = provider.RateLimit{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		Reset:     resp.Rate.Reset.Time,
	}
	a.haveRate = true
}

func toRepository(org string, r *gogithub.Repository) provider.Repository {
	return provider.Repository{
		Provider:      provider.KindGitHub,
		Organization:  org,
		Project:       org,
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		CloneURL:      r.GetCloneURL(),
		SSHURL:        r.GetSSHURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
		Archived:      r.GetArchived(),
		Language:      r.GetLanguage(),
		Topics:        r.Topics,
	}
}

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func classifyAPIErr(err error, resp *gogithub.Response) error {
	if err == nil {
		return nil
	}
	var rateErr *gogithub.RateLimitError
	var abuseErr *gogithub.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr):
		return fmt.Errorf("%w: %v", provider.ErrRateLimited, err)
	case errors.As(err, &abuseErr):
		return fmt.Errorf("%w: %v", provider.ErrRateLimited, err)
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", provider.ErrAuth, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", provider.ErrNotFound, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", provider.ErrRateLimited, err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", provider.ErrProviderInternal, err)
		}
	}
	return fmt.Errorf("%w: %v", provider.ErrNetwork, err)
}

// rateLimitedTransport applies a token-bucket limiter and retry/backoff
// (via internal/netretry) in front of every GitHub API call, and sets the
// bearer auth header so callers never need to touch http.Request directly.
type rateLimitedTransport struct {
	limiter *rate.Limiter
	token   string
	base    http.RoundTripper
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)

	var resp *http.Response
	var retryAfter time.Duration
	classify := func(error) netretry.Classification {
		return netretry.Classification{Retryable: true, RetryAfter: retryAfter}
	}

	err := netretry.Do(req.Context(), classify, func(ctx context.Context) error {
		retryAfter = 0
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		r, err := t.base.RoundTrip(req)
		if err != nil {
			resp = nil
			return err
		}
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			retryAfter = parseRetryAfter(r.Header.Get("Retry-After"))
			r.Body.Close()
			resp = nil
			return fmt.Errorf("transient status %d", r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil && resp == nil {
		return nil, err
	}
	return resp, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
