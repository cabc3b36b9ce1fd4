// Package bitbucket adapts Bitbucket Cloud to the provider.Adapter port via
// net/http, using the "next" cursor-URL pagination style Bitbucket Cloud's
// API publishes on every paginated response.
package bitbucket

import (
	"context"
	"encoding/base64"
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

const defaultBaseURL = "https://api.bitbucket.org/2.0"

func init() {
	provider.Register(provider.KindBitbucket, func(acc provider.Account) (provider.Adapter, error) {
		return New(acc)
	})
}

// Adapter implements provider.Adapter for Bitbucket Cloud. account.Username
// is the Atlassian account username, account.Token is an app password.
type Adapter struct {
	account provider.Account
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

func New(account provider.Account) (*Adapter, error) {
	if account.Token == "" {
		return nil, fmt.Errorf("%w: bitbucket account %q has no app password", provider.ErrConfig, account.Name)
	}
	if account.Username == "" {
		return nil, fmt.Errorf("%w: bitbucket account %q has no username", provider.ErrConfig, account.Name)
	}
	base := account.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		account: account,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		baseURL: base,
	}, nil
}

func (a *Adapter) Kind() provider.Kind   { return provider.KindBitbucket }
func (a *Adapter) SupportsProjects() bool { return true }
func (a *Adapter) RequiresProject() bool  { return false }

func (a *Adapter) Authenticate(ctx context.Context) error {
	_, _, err := a.get(ctx, fmt.Sprintf("%s/user", a.baseURL))
	return err
}

// TestConnection is a reachability-only probe: it never fails on bad
// credentials, only when the endpoint itself is unreachable or erroring.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL, nil)
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

type workspaceList struct {
	Values []struct {
		Slug string `json:"slug"`
	} `json:"values"`
	Next string `json:"next"`
}

func (a *Adapter) ListOrganizations(ctx context.Context) (<-chan provider.OrgOrError, error) {
	out := make(chan provider.OrgOrError)
	go func() {
		defer close(out)

		next := fmt.Sprintf("%s/workspaces?pagelen=100", a.baseURL)
		for next != "" {
			body, _, err := a.get(ctx, next)
			if err != nil {
				send(ctx, out, provider.OrgOrError{Err: err})
				return
			}
			var page workspaceList
			if err := json.Unmarshal(body, &page); err != nil {
				send(ctx, out, provider.OrgOrError{Err: fmt.Errorf("%w: %v", provider.ErrProviderInternal, err)})
				return
			}
			for _, w := range page.Values {
				if !send(ctx, out, provider.OrgOrError{Org: provider.Organization{Name: w.Slug}}) {
					return
				}
			}
			next = page.Next
		}
	}()
	return out, nil
}

type projectList struct {
	Values []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"values"`
	Next string `json:"next"`
}

// ListProjects lists a workspace's real Bitbucket projects via the
// /workspaces/{workspace}/projects endpoint.
func (a *Adapter) ListProjects(ctx context.Context, org string) (<-chan provider.ProjectOrError, error) {
	out := make(chan provider.ProjectOrError)
	go func() {
		defer close(out)

		next := fmt.Sprintf("%s/workspaces/%s/projects?pagelen=100", a.baseURL, url.PathEscape(org))
		for next != "" {
			body, _, err := a.get(ctx, next)
			if err != nil {
				send(ctx, out, provider.ProjectOrError{Err: err})
				return
			}
			var page projectList
			if err := json.Unmarshal(body, &page); err != nil {
				send(ctx, out, provider.ProjectOrError{Err: fmt.Errorf("%w: %v", provider.ErrProviderInternal, err)})
				return
			}
			for _, p := range page.Values {
				proj := provider.Project{Organization: org, Name: p.Name}
				if !send(ctx, out, provider.ProjectOrError{Project: proj}) {
					return
				}
			}
			next = page.Next
		}
	}()
	return out, nil
}

type repoItem struct {
	Name       string `json:"name"`
	FullName   string `json:"full_name"`
	IsPrivate  bool   `json:"is_private"`
	MainBranch struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Project struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"project"`
	Language string `json:"language"`
	Links    struct {
		Clone []struct {
			Name string `json:"name"`
			Href string `json:"href"`
		} `json:"clone"`
	} `json:"links"`
}

func (r repoItem) toRepository(org string) provider.Repository {
	project := r.Project.Name
	if project == "" {
		project = org
	}
	return provider.Repository{
		Provider:      provider.KindBitbucket,
		Organization:  org,
		Project:       project,
		Name:          r.Name,
		FullName:      r.FullName,
		DefaultBranch: r.MainBranch.Name,
		Private:       r.IsPrivate,
		Language:      r.Language,
		CloneURL:      cloneHref(r.Links.Clone, "https"),
		SSHURL:        cloneHref(r.Links.Clone, "ssh"),
	}
}

type repoList struct {
	Values []repoItem `json:"values"`
	Next   string     `json:"next"`
}

// ListRepositories lists a workspace's repositories. When project is
// non-empty, only repositories assigned to that project (matched by
// project name) are sent.
func (a *Adapter) ListRepositories(ctx context.Context, org, project string, filters provider.RepositoryFilters) (<-chan provider.RepoOrError, error) {
	out := make(chan provider.RepoOrError)
	go func() {
		defer close(out)

		next := fmt.Sprintf("%s/repositories/%s?pagelen=100", a.baseURL, url.PathEscape(org))
		for next != "" {
			body, _, err := a.get(ctx, next)
			if err != nil {
				send(ctx, out, provider.RepoOrError{Err: err})
				return
			}
			var page repoList
			if err := json.Unmarshal(body, &page); err != nil {
				send(ctx, out, provider.RepoOrError{Err: fmt.Errorf("%w: %v", provider.ErrProviderInternal, err)})
				return
			}
			for _, r := range page.Values {
				repo := r.toRepository(org)
				if project != "" && repo.Project != project {
					continue
				}
				if !filters.Matches(repo) {
					continue
				}
				if !send(ctx, out, provider.RepoOrError{Repo: repo}) {
					return
				}
			}
			next = page.Next
		}
	}()
	return out, nil
}

// GetRepository returns a single repository, or (nil, nil) if none exists
// by that name in org.
func (a *Adapter) GetRepository(ctx context.Context, org, repo, _ string) (*provider.Repository, error) {
	body, _, err := a.get(ctx, fmt.Sprintf("%s/repositories/%s/%s", a.baseURL, url.PathEscape(org), url.PathEscape(repo)))
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var item repoItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrProviderInternal, err)
	}
	rep := item.toRepository(org)
	return &rep, nil
}

// Close releases idle connections held by the underlying HTTP client.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func cloneHref(links []struct {
	Name string `json:"name"`
	Href string `json:"href"`
}, name string) string {
	for _, l := range links {
		if l.Name == name {
			return l.Href
		}
	}
	return ""
}

func (a *Adapter) AuthenticatedCloneURL(repo provider.Repository) (string, error) {
	u, err := url.Parse(repo.CloneURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrInvalidArgument, err)
	}
	u.User = url.UserPassword(a.account.Username, a.account.Token)
	return u.String(), nil
}

func (a *Adapter) RateLimitInfo() (*provider.RateLimit, bool) {
	return nil, false
}

func (a *Adapter) basicAuthHeader() string {
	raw := a.account.Username + ":" + a.account.Token
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func (a *Adapter) get(ctx context.Context, u string) ([]byte, http.Header, error) {
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
		req.Header.Set("Authorization", a.basicAuthHeader())
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

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
