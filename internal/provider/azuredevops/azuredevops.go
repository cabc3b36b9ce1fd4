// Package azuredevops adapts Azure DevOps Services to the provider.Adapter
// port via net/http and the Azure DevOps REST API, replacing the curl/PAT
// shell-out approach with a typed client capable of real pagination and
// retry/backoff.
package azuredevops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/mgit-dev/mgit/internal/netretry"
	"github.com/mgit-dev/mgit/internal/provider"
)

const apiVersion = "7.1"

func init() {
	provider.Register(provider.KindAzureDevOps, func(acc provider.Account) (provider.Adapter, error) {
		return New(acc)
	})
}

// Adapter implements provider.Adapter for Azure DevOps Services
// (dev.azure.com/{organization}).
type Adapter struct {
	account provider.Account
	client  *http.Client
	limiter *rate.Limiter
}

func New(account provider.Account) (*Adapter, error) {
	if account.Token == "" {
		return nil, fmt.Errorf("%w: azure devops account %q has no token", provider.ErrConfig, account.Name)
	}
	return &Adapter{
		account: account,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}, nil
}

func (a *Adapter) Kind() provider.Kind    { return provider.KindAzureDevOps }
func (a *Adapter) SupportsProjects() bool { return true }
func (a *Adapter) RequiresProject() bool  { return true }

func (a *Adapter) Authenticate(ctx context.Context) error {
	_, err := a.get(ctx, a.orgURL("_apis/projects", url.Values{"$top": {"1"}}))
	return err
}

// TestConnection is a reachability-only probe: it never fails on bad
// credentials, only on the endpoint being unreachable or erroring server-side.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	base := a.account.BaseURL
	if base == "" {
		base = "https://dev.azure.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (a *Adapter) ListOrganizations(ctx context.Context) (<-chan provider.OrgOrError, error) {
	out := make(chan provider.OrgOrError, 1)
	out <- provider.OrgOrError{Org: provider.Organization{Name: a.account.DefaultOrg, Type: provider.OrgTypeOrganization}}
	close(out)
	return out, nil
}

type projectList struct {
	Value []struct {
		Name string `json:"name"`
	} `json:"value"`
	ContinuationToken string `json:"-"`
}

func (a *Adapter) ListProjects(ctx context.Context, org string) (<-chan provider.ProjectOrError, error) {
	out := make(chan provider.ProjectOrError)
	go func() {
		defer close(out)

		continuation := ""
		for {
			vals := url.Values{"$top": {"100"}}
			if continuation != "" {
				vals.Set("continuationToken", continuation)
			}
			body, headers, err := a.getWithHeaders(ctx, a.orgURLFor(org, "_apis/projects", vals))
			if err != nil {
				send(ctx, out, provider.ProjectOrError{Err: err})
				return
			}
			var page projectList
			if err := json.Unmarshal(body, &page); err != nil {
				send(ctx, out, provider.ProjectOrError{Err: fmt.Errorf("%w: %v", provider.ErrProviderInternal, err)})
				return
			}
			for _, p := range page.Value {
				if !send(ctx, out, provider.ProjectOrError{Project: provider.Project{Organization: org, Name: p.Name}}) {
					return
				}
			}
			continuation = headers.Get("X-MS-ContinuationToken")
			if continuation == "" {
				return
			}
		}
	}()
	return out, nil
}

type repoListEntry struct {
	Name          string `json:"name"`
	DefaultBranch string `json:"defaultBranch"`
	RemoteURL     string `json:"remoteUrl"`
	SSHURL        string `json:"sshUrl"`
	IsDisabled    bool   `json:"isDisabled"`
	Project       struct {
		Name string `json:"name"`
	} `json:"project"`
}

type repoList struct {
	Value []repoListEntry `json:"value"`
}

func (r repoListEntry) toRepository(org, project string) provider.Repository {
	return provider.Repository{
		Provider:      provider.KindAzureDevOps,
		Organization:  org,
		Project:       project,
		Name:          r.Name,
		FullName:      fmt.Sprintf("%s/%s/%s", org, project, r.Name),
		CloneURL:      r.RemoteURL,
		SSHURL:        r.SSHURL,
		DefaultBranch: trimRefsHeads(r.DefaultBranch),
		Archived:      r.IsDisabled,
	}
}

// ListRepositories lists a project's repositories. Azure DevOps has no
// meaningful "every project" listing, so project must be non-empty; the
// caller (the bulk/query engines, via RequiresProject) is responsible for
// rejecting a missing project before this is ever called.
func (a *Adapter) ListRepositories(ctx context.Context, org, project string, filters provider.RepositoryFilters) (<-chan provider.RepoOrError, error) {
	if project == "" {
		return nil, fmt.Errorf("%w: azure devops requires a project, got none for org %q", provider.ErrInvalidArgument, org)
	}
	out := make(chan provider.RepoOrError)
	go func() {
		defer close(out)

		body, _, err := a.getWithHeaders(ctx, a.orgURLFor(org, fmt.Sprintf("%s/_apis/git/repositories", url.PathEscape(project)), nil))
		if err != nil {
			send(ctx, out, provider.RepoOrError{Err: err})
			return
		}
		var page repoList
		if err := json.Unmarshal(body, &page); err != nil {
			send(ctx, out, provider.RepoOrError{Err: fmt.Errorf("%w: %v", provider.ErrProviderInternal, err)})
			return
		}
		for _, r := range page.Value {
			repo := r.toRepository(org, project)
			if !filters.Matches(repo) {
				continue
			}
			if !send(ctx, out, provider.RepoOrError{Repo: repo}) {
				return
			}
		}
	}()
	return out, nil
}

// GetRepository returns a single repository, or (nil, nil) if none exists
// by that name in project.
func (a *Adapter) GetRepository(ctx context.Context, org, repo, project string) (*provider.Repository, error) {
	if project == "" {
		return nil, fmt.Errorf("%w: azure devops requires a project, got none for org %q", provider.ErrInvalidArgument, org)
	}
	body, err := a.get(ctx, a.orgURLFor(org, fmt.Sprintf("%s/_apis/git/repositories/%s", url.PathEscape(project), url.PathEscape(repo)), nil))
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var item repoListEntry
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrProviderInternal, err)
	}
	rep := item.toRepository(org, project)
	return &rep, nil
}

// Close releases idle connections held by the underlying HTTP client.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) AuthenticatedCloneURL(repo provider.Repository) (string, error) {
	u, err := url.Parse(repo.CloneURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrInvalidArgument, err)
	}
	// PAT-only userinfo is the reliable Azure DevOps auth form: the PAT
	// goes in the username field with no password.
	u.User = url.User(a.account.Token)
	return u.String(), nil
}

func (a *Adapter) RateLimitInfo() (*provider.RateLimit, bool) {
	return nil, false
}

func (a *Adapter) orgURL(pathAndQuery string, vals url.Values) string {
	return a.orgURLFor(a.account.DefaultOrg, pathAndQuery, vals)
}

func (a *Adapter) orgURLFor(org, pathAndQuery string, vals url.Values) string {
	if vals == nil {
		vals = url.Values{}
	}
	vals.Set("api-version", apiVersion)
	base := a.account.BaseURL
	if base == "" {
		base = "https://dev.azure.com"
	}
	return fmt.Sprintf("%s/%s/%s?%s", base, org, pathAndQuery, vals.Encode())
}

func (a *Adapter) get(ctx context.Context, u string) ([]byte, error) {
	body, _, err := a.getWithHeaders(ctx, u)
	return body, err
}

func (a *Adapter) getWithHeaders(ctx context.Context, u string) ([]byte, http.Header, error) {
	var body []byte
	var headers http.Header
	var retryAfter time.Duration

	classify := func(err error) netretry.Classification {
		if netretry.IsPermanent(err) {
			return netretry.Classification{Retryable: false}
		}
		return netretry.Classification{Retryable: true, RetryAfter: retryAfter}
	}

	err := netretry.Do(ctx, classify, func(ctx context.Context) error {
		retryAfter = 0
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth("", a.account.Token)
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", provider.ErrNetwork, err)
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%w: %v", provider.ErrNetwork, readErr)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return netretry.Permanent(fmt.Errorf("%w: %s", provider.ErrAuth, data))
		case resp.StatusCode == http.StatusNotFound:
			return netretry.Permanent(fmt.Errorf("%w: %s", provider.ErrNotFound, data))
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			return fmt.Errorf("%w: rate limited", provider.ErrRateLimited)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", provider.ErrProviderInternal, resp.StatusCode)
		case resp.StatusCode >= 400:
			return netretry.Permanent(fmt.Errorf("%w: status %d: %s", provider.ErrInvalidArgument, resp.StatusCode, data))
		}

		body = data
		headers = resp.Header
		return nil
	})

	return body, headers, netretry.Unwrap(err)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v + "s"); err == nil {
		return d
	}
	return 0
}

func trimRefsHeads(ref string) string {
	const prefix = "refs/heads/"
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		return ref[len(prefix):]
	}
	return ref
}

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
