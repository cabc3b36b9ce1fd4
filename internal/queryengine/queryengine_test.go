package queryengine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgit-dev/mgit/internal/provider"
	"github.com/mgit-dev/mgit/internal/query"
)

// fakeAdapter serves a fixed org/project/repo tree, all entirely in memory,
// so the engine's fan-out and filtering can be tested without a network.
type fakeAdapter struct {
	name  string
	orgs  []string
	repos map[string][]string // org -> repo names, one synthetic project per org
}

func (a *fakeAdapter) Kind() provider.Kind                        { return provider.KindGitHub }
func (a *fakeAdapter) SupportsProjects() bool                     { return false }
func (a *fakeAdapter) RequiresProject() bool                      { return false }
func (a *fakeAdapter) Authenticate(context.Context) error         { return nil }
func (a *fakeAdapter) TestConnection(context.Context) bool        { return true }
func (a *fakeAdapter) Close() error                               { return nil }
func (a *fakeAdapter) AuthenticatedCloneURL(r provider.Repository) (string, error) {
	return "https://example.com/" + r.FullName + ".git", nil
}
func (a *fakeAdapter) RateLimitInfo() (*provider.RateLimit, bool) { return nil, false }

func (a *fakeAdapter) GetRepository(ctx context.Context, org, repo, project string) (*provider.Repository, error) {
	for _, r := range a.repos[org] {
		if r == repo {
			rep := provider.Repository{Organization: org, Project: project, Name: r, FullName: org + "/" + r}
			return &rep, nil
		}
	}
	return nil, nil
}

func (a *fakeAdapter) ListOrganizations(ctx context.Context) (<-chan provider.OrgOrError, error) {
	out := make(chan provider.OrgOrError)
	go func() {
		defer close(out)
		for _, o := range a.orgs {
			select {
			case out <- provider.OrgOrError{Org: provider.Organization{Name: o}}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (a *fakeAdapter) ListProjects(ctx context.Context, org string) (<-chan provider.ProjectOrError, error) {
	out := make(chan provider.ProjectOrError, 1)
	out <- provider.ProjectOrError{Project: provider.Project{Organization: org, Name: "default"}}
	close(out)
	return out, nil
}

func (a *fakeAdapter) ListRepositories(ctx context.Context, org, project string, _ provider.RepositoryFilters) (<-chan provider.RepoOrError, error) {
	out := make(chan provider.RepoOrError)
	go func() {
		defer close(out)
		for _, r := range a.repos[org] {
			rep := provider.Repository{Organization: org, Project: project, Name: r, FullName: org + "/" + r}
			select {
			case out <- provider.RepoOrError{Repo: rep}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func collect(t *testing.T, matches <-chan Match, errs <-chan error) ([]Match, error) {
	t.Helper()
	var got []Match
	var firstErr error
	timeout := time.After(2 * time.Second)
	open := true
	for open {
		select {
		case m, ok := <-matches:
			if !ok {
				open = false
				continue
			}
			got = append(got, m)
		case err := <-errs:
			if firstErr == nil {
				firstErr = err
			}
		case <-timeout:
			t.Fatal("timed out waiting for queryengine results")
		}
	}
	return got, firstErr
}

func TestStreamMatchesAcrossAccounts(t *testing.T) {
	a1 := &fakeAdapter{orgs: []string{"acme"}, repos: map[string][]string{"acme": {"widgets", "gadgets"}}}
	a2 := &fakeAdapter{orgs: []string{"other"}, repos: map[string][]string{"other": {"widgets-two"}}}

	q, err := query.Compile("*/*/widgets*")
	require.NoError(t, err)

	e := New(0)
	matches, errs := e.Stream(context.Background(), q, []AccountAdapter{
		{Name: "one", Adapter: a1},
		{Name: "two", Adapter: a2},
	}, 0)

	got, err := collect(t, matches, errs)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStreamExcludesNonMatchingRepos(t *testing.T) {
	a := &fakeAdapter{orgs: []string{"acme"}, repos: map[string][]string{"acme": {"widgets", "other"}}}
	q, err := query.Compile("acme/*/widgets")
	require.NoError(t, err)

	e := New(0)
	matches, errs := e.Stream(context.Background(), q, []AccountAdapter{{Name: "one", Adapter: a}}, 0)
	got, err := collect(t, matches, errs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "widgets", got[0].Repository.Name)
}

func TestStreamStopsAtLimit(t *testing.T) {
	names := make([]string, 50)
	for i := range names {
		names[i] = fmt.Sprintf("repo-%02d", i)
	}
	a := &fakeAdapter{orgs: []string{"acme"}, repos: map[string][]string{"acme": names}}
	q, err := query.Compile("*/*/*")
	require.NoError(t, err)

	e := New(0)
	matches, errs := e.Stream(context.Background(), q, []AccountAdapter{{Name: "one", Adapter: a}}, 3)
	got, err := collect(t, matches, errs)
	require.NoError(t, err)
	assert.Len(t, got, 3, "expected exactly 3 matches due to limit")
}

func TestStreamErrsChannelClosesWithoutError(t *testing.T) {
	a := &fakeAdapter{orgs: []string{"acme"}, repos: map[string][]string{"acme": {"widgets"}}}
	q, err := query.Compile("*/*/*")
	require.NoError(t, err)

	e := New(0)
	matches, errs := e.Stream(context.Background(), q, []AccountAdapter{{Name: "one", Adapter: a}}, 0)

	for range matches {
	}

	select {
	case err, ok := <-errs:
		assert.False(t, ok, "expected errs to be closed, not to yield a value")
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("errs channel was never closed after matches drained")
	}
}

func TestStreamDeduplicatesRepeatedListings(t *testing.T) {
	// orgs lists "acme" twice, simulating a paginated listing that (due to
	// retry or provider quirk) yields the same org/repo pair more than once.
	a := &fakeAdapter{orgs: []string{"acme", "acme"}, repos: map[string][]string{"acme": {"widgets"}}}
	q, err := query.Compile("*/*/*")
	require.NoError(t, err)

	e := New(0)
	matches, errs := e.Stream(context.Background(), q, []AccountAdapter{{Name: "one", Adapter: a}}, 0)
	got, err := collect(t, matches, errs)
	require.NoError(t, err)
	assert.Len(t, got, 1, "expected the duplicate org/repo pair to be deduplicated")
}

func TestStreamSkipsNonMatchingOrgsEarly(t *testing.T) {
	a := &fakeAdapter{orgs: []string{"acme", "skipme"}, repos: map[string][]string{
		"acme":   {"widgets"},
		"skipme": {"should-not-appear"},
	}}
	q, err := query.Compile("acme/*/*")
	require.NoError(t, err)

	e := New(0)
	matches, errs := e.Stream(context.Background(), q, []AccountAdapter{{Name: "one", Adapter: a}}, 0)
	got, err := collect(t, matches, errs)
	require.NoError(t, err)
	for _, m := range got {
		assert.Equal(t, "acme", m.Repository.Organization)
	}
}
