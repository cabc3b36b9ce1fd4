package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/mgit-dev/mgit/internal/bulk"
	"github.com/mgit-dev/mgit/internal/gitexec"
	"github.com/mgit-dev/mgit/internal/mask"
	"github.com/mgit-dev/mgit/internal/progress"
	"github.com/mgit-dev/mgit/internal/provider"
	"github.com/mgit-dev/mgit/internal/query"
	"github.com/mgit-dev/mgit/internal/queryengine"
)

var (
	bulkProvider     string
	bulkConcurrency  int
	bulkUpdateMode   string
	bulkInclude      string
	bulkExclude      string
	bulkDryRun       bool
)

func addBulkFlags(cmd *cobra.Command, withUpdateMode bool) {
	cmd.Flags().StringVar(&bulkProvider, "provider", "", "restrict to a single configured account")
	cmd.Flags().IntVar(&bulkConcurrency, "concurrency", 5, "number of repositories to process concurrently")
	cmd.Flags().StringVar(&bulkInclude, "include", "", "comma-separated list of repository names to include")
	cmd.Flags().StringVar(&bulkExclude, "exclude", "", "comma-separated list of repository names to exclude")
	cmd.Flags().BoolVar(&bulkDryRun, "dry-run", false, "report what would happen without cloning or pulling")
	if withUpdateMode {
		cmd.Flags().StringVar(&bulkUpdateMode, "update-mode", "skip", "existing-directory policy: skip, pull, or force")
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// projectQuery turns the clone-all/pull-all positional "<project>" argument
// (an "org" or "org/project" string) into a three-segment query matching
// every repository under it.
func projectQuery(project string) (*query.Query, error) {
	segments := strings.Split(project, "/")
	switch len(segments) {
	case 1:
		return query.Compile(fmt.Sprintf("%s/*/*", segments[0]))
	case 2:
		return query.Compile(fmt.Sprintf("%s/%s/*", segments[0], segments[1]))
	default:
		return nil, fmt.Errorf("%w: project must be \"org\" or \"org/project\", got %q", provider.ErrInvalidArgument, project)
	}
}

// validateProjectArgument enforces provider-specific project requirements
// before any network call is made: a provider that requires a project
// (Azure DevOps) rejects a bare "org" argument outright, rather than
// silently expanding it to every project.
func validateProjectArgument(project string, accounts map[string]provider.Adapter) error {
	segments := strings.Split(project, "/")
	if len(segments) >= 2 {
		return nil
	}
	for name, adapter := range accounts {
		if adapter.RequiresProject() {
			return fmt.Errorf("%w: account %q (%s) requires a project; pass \"org/project\" instead of %q",
				provider.ErrInvalidArgument, name, adapter.Kind(), project)
		}
	}
	return nil
}

func runBulk(cmd *cobra.Command, project, targetDir string, policy bulk.ExistingDirPolicy) error {
	ctx := cmd.Context()

	lc, err := loadConfiguration()
	if err != nil {
		return err
	}
	accounts, err := lc.selectAccounts(bulkProvider)
	if err != nil {
		return err
	}
	if err := validateProjectArgument(project, accounts); err != nil {
		return err
	}

	q, err := projectQuery(project)
	if err != nil {
		return err
	}

	accountAdapters := make([]queryengine.AccountAdapter, 0, len(accounts))
	for name, adapter := range accounts {
		accountAdapters = append(accountAdapters, queryengine.AccountAdapter{Name: name, Adapter: adapter})
	}

	qe := queryengine.New(5)
	matches, errs := qe.Stream(ctx, q, accountAdapters, 0)

	var repos []provider.Repository
	var byAccount = map[string]provider.Adapter{}
	for m := range matches {
		repos = append(repos, m.Repository)
		byAccount[m.Repository.FullName] = accounts[m.Account]
	}
	if err := <-errs; err != nil {
		return err
	}

	if len(repos) == 0 {
		fmt.Println("no repositories matched")
		return nil
	}

	// All matched repositories share a provider.Adapter for authenticated
	// clone URL generation; when multiple accounts matched, pick per-repo.
	var primary provider.Adapter
	for _, a := range byAccount {
		primary = a
		break
	}
	adapter := &perRepoAdapter{fallback: primary, byFullName: byAccount}

	opts := bulk.OperationOptions{
		Concurrency: bulkConcurrency,
		ExistingDir: policy,
		DryRun:      bulkDryRun,
		Include:     splitCSV(bulkInclude),
		Exclude:     splitCSV(bulkExclude),
	}

	reporter := progress.New(quiet, jsonOut)
	reporter.ShowHeader(targetDir, len(repos))

	runner := gitexec.New(mask.New())
	engine := bulk.New(adapter, runner, confirmForce)

	events := make(chan bulk.Event, 64)
	done := make(chan struct{})
	go func() {
		reporter.Consume(events)
		close(done)
	}()

	start := time.Now()
	result, err := engine.Run(ctx, repos, targetDir, opts, events)
	close(events)
	<-done
	if err != nil {
		return err
	}

	reporter.Summary(result)
	_ = progress.SaveRunSummary(targetDir, progress.NewRunSummary(targetDir, result, time.Since(start), start))

	if result.Canceled {
		return context.Canceled
	}
	if result.CountByOutcome(bulk.OutcomeFailed) > 0 {
		return fmt.Errorf("%d repositories failed", result.CountByOutcome(bulk.OutcomeFailed))
	}
	return nil
}

func confirmForce(dir string) bool {
	if jsonOut {
		return true
	}
	confirmed := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("overwrite existing directory %s?", dir),
		Default: false,
	}
	_ = survey.AskOne(prompt, &confirmed)
	return confirmed
}

// perRepoAdapter dispatches AuthenticatedCloneURL to the adapter that
// actually enumerated each repository, since a single bulk run may span
// several configured accounts.
type perRepoAdapter struct {
	fallback   provider.Adapter
	byFullName map[string]provider.Adapter
}

func (p *perRepoAdapter) Kind() provider.Kind                    { return p.fallback.Kind() }
func (p *perRepoAdapter) SupportsProjects() bool                 { return p.fallback.SupportsProjects() }
func (p *perRepoAdapter) RequiresProject() bool                  { return p.fallback.RequiresProject() }
func (p *perRepoAdapter) Authenticate(ctx context.Context) error { return p.fallback.Authenticate(ctx) }
func (p *perRepoAdapter) TestConnection(ctx context.Context) bool { return p.fallback.TestConnection(ctx) }
func (p *perRepoAdapter) ListOrganizations(ctx context.Context) (<-chan provider.OrgOrError, error) {
	return p.fallback.ListOrganizations(ctx)
}
func (p *perRepoAdapter) ListProjects(ctx context.Context, org string) (<-chan provider.ProjectOrError, error) {
	return p.fallback.ListProjects(ctx, org)
}
func (p *perRepoAdapter) ListRepositories(ctx context.Context, org, project string, filters provider.RepositoryFilters) (<-chan provider.RepoOrError, error) {
	return p.fallback.ListRepositories(ctx, org, project, filters)
}
func (p *perRepoAdapter) GetRepository(ctx context.Context, org, repo, project string) (*provider.Repository, error) {
	return p.fallback.GetRepository(ctx, org, repo, project)
}
func (p *perRepoAdapter) RateLimitInfo() (*provider.RateLimit, bool) { return p.fallback.RateLimitInfo() }
func (p *perRepoAdapter) Close() error                               { return p.fallback.Close() }

func (p *perRepoAdapter) AuthenticatedCloneURL(repo provider.Repository) (string, error) {
	if a, ok := p.byFullName[repo.FullName]; ok {
		return a.AuthenticatedCloneURL(repo)
	}
	return p.fallback.AuthenticatedCloneURL(repo)
}
