// Package queryengine performs cross-account, cross-organization,
// cross-project repository search against a compiled query, streaming
// matches back to the caller and stopping upstream producers once a
// result limit is reached.
package queryengine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mgit-dev/mgit/internal/provider"
	"github.com/mgit-dev/mgit/internal/query"
)

// dedupKey identifies a repository uniquely across every account and
// provider searched by one Stream call.
type dedupKey struct {
	provider string
	account  string
	org      string
	project  string
	name     string
}

const defaultAccountConcurrency = 5

// Match is one repository found during a search.
type Match struct {
	Account    string
	Repository provider.Repository
}

// Engine searches across a set of adapters.
type Engine struct {
	accountConcurrency int64
}

// New builds an Engine. accountConcurrency bounds how many accounts are
// searched at once; <= 0 uses the default of 5.
func New(accountConcurrency int) *Engine {
	if accountConcurrency <= 0 {
		accountConcurrency = defaultAccountConcurrency
	}
	return &Engine{accountConcurrency: int64(accountConcurrency)}
}

// AccountAdapter pairs a configured account name with its Adapter.
type AccountAdapter struct {
	Name    string
	Adapter provider.Adapter
}

// Stream searches every account in accounts for repositories matching q,
// stopping all producers once limit matches have been sent (limit <= 0
// means unlimited). The returned channel is closed when the search
// completes or ctx is canceled; a single error channel reports the first
// fatal (non-per-repository) failure, such as an account authentication
// failure.
func (e *Engine) Stream(ctx context.Context, q *query.Query, accounts []AccountAdapter, limit int) (<-chan Match, <-chan error) {
	return e.StreamFiltered(ctx, q, accounts, limit, provider.RepositoryFilters{})
}

// StreamFiltered is Stream with an additional RepositoryFilters narrowing
// applied at each account's ListRepositories call.
func (e *Engine) StreamFiltered(ctx context.Context, q *query.Query, accounts []AccountAdapter, limit int, filters provider.RepositoryFilters) (<-chan Match, <-chan error) {
	matches := make(chan Match)
	errs := make(chan error, 1)

	searchCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(errs)
		defer close(matches)
		defer cancel()

		var sent int64
		var sentMu sync.Mutex
		done := func() bool {
			if limit <= 0 {
				return false
			}
			sentMu.Lock()
			defer sentMu.Unlock()
			return sent >= int64(limit)
		}

		var seen sync.Map // dedupKey -> struct{}

		sem := semaphore.NewWeighted(e.accountConcurrency)
		g, gctx := errgroup.WithContext(searchCtx)

		for _, aa := range accounts {
			aa := aa
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				return e.searchAccount(gctx, aa, q, filters, matches, &sentMu, &sent, &seen, limit, done, cancel)
			})
		}

		if err := g.Wait(); err != nil {
			select {
			case errs <- err:
			default:
			}
		}
	}()

	return matches, errs
}

func (e *Engine) searchAccount(ctx context.Context, aa AccountAdapter, q *query.Query, filters provider.RepositoryFilters, matches chan<- Match, sentMu *sync.Mutex, sent *int64, seen *sync.Map, limit int, done func() bool, cancel context.CancelFunc) error {
	orgs, err := aa.Adapter.ListOrganizations(ctx)
	if err != nil {
		return err
	}

	for orgRes := range orgs {
		if done() {
			return nil
		}
		if orgRes.Err != nil {
			continue // a single account's listing failure does not abort the whole search
		}
		if !q.MatchesOrg(orgRes.Org.Name) {
			continue
		}

		projects, err := aa.Adapter.ListProjects(ctx, orgRes.Org.Name)
		if err != nil {
			continue
		}

		for projRes := range projects {
			if done() {
				return nil
			}
			if projRes.Err != nil {
				continue
			}
			if !q.MatchesProject(projRes.Project.Name) {
				continue
			}

			repos, err := aa.Adapter.ListRepositories(ctx, orgRes.Org.Name, projRes.Project.Name, filters)
			if err != nil {
				continue
			}

			for repoRes := range repos {
				if done() {
					return nil
				}
				if repoRes.Err != nil {
					continue
				}
				if !q.Matches(orgRes.Org.Name, projRes.Project.Name, repoRes.Repo.Name) {
					continue
				}

				key := dedupKey{
					provider: string(repoRes.Repo.Provider),
					account:  aa.Name,
					org:      orgRes.Org.Name,
					project:  projRes.Project.Name,
					name:     repoRes.Repo.Name,
				}
				if _, dup := seen.LoadOrStore(key, struct{}{}); dup {
					continue
				}

				select {
				case matches <- Match{Account: aa.Name, Repository: repoRes.Repo}:
					sentMu.Lock()
					*sent++
					reached := limit > 0 && *sent >= int64(limit)
					sentMu.Unlock()
					if reached {
						cancel()
						return nil
					}
				case <-ctx.Done():
					return nil
				}
			}
		}
	}

	return nil
}
