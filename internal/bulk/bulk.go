// Package bulk runs clone/pull operations over many repositories with
// bounded concurrency, per-repository failure isolation, and live progress
// events.
package bulk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/mgit-dev/mgit/internal/gitexec"
	"github.com/mgit-dev/mgit/internal/provider"
)

// ExistingDirPolicy controls what happens when the destination directory
// for a repository already exists.
type ExistingDirPolicy string

const (
	PolicySkip  ExistingDirPolicy = "skip"
	PolicyPull  ExistingDirPolicy = "pull"
	PolicyForce ExistingDirPolicy = "force"
)

const (
	defaultConcurrency = 5
	maxConcurrency     = 50
	defaultGitTimeout  = 10 * time.Minute
)

// OperationOptions configures one bulk run.
type OperationOptions struct {
	Concurrency  int
	ExistingDir  ExistingDirPolicy
	Shallow      bool
	DryRun       bool
	PerRepoLimit time.Duration
	Include      []string
	Exclude      []string
}

// Clamp returns opts with Concurrency defaulted and capped at 50, and
// PerRepoLimit defaulted when unset.
func (o OperationOptions) Clamp() OperationOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.Concurrency > maxConcurrency {
		o.Concurrency = maxConcurrency
	}
	if o.PerRepoLimit <= 0 {
		o.PerRepoLimit = defaultGitTimeout
	}
	if o.ExistingDir == "" {
		o.ExistingDir = PolicySkip
	}
	return o
}

// Outcome of processing a single repository.
type Outcome string

const (
	OutcomeCloned   Outcome = "cloned"
	OutcomePulled   Outcome = "pulled"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeWouldRun Outcome = "would-run" // dry-run
)

// RepoOutcome is the per-repository result recorded in a BulkResult.
type RepoOutcome struct {
	Repository provider.Repository
	Outcome    Outcome
	Reason     string
	Duration   time.Duration
}

// BulkResult aggregates every RepoOutcome from one run.
type BulkResult struct {
	Outcomes []RepoOutcome
	Canceled bool
}

func (r *BulkResult) CountByOutcome(o Outcome) int {
	n := 0
	for _, oc := range r.Outcomes {
		if oc.Outcome == o {
			n++
		}
	}
	return n
}

// EventKind distinguishes progress-event types.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
)

// Event is one progress update, sent in the order repositories start and
// finish; "progress" events for the same repository may be coalesced, but
// "started" and "completed" are always delivered.
type Event struct {
	Kind       EventKind
	Repository provider.Repository
	Message    string
	Outcome    RepoOutcome
}

// GitRunner is the subset of gitexec.Runner the engine depends on, so tests
// can substitute a fake without doing real subprocess work.
type GitRunner interface {
	Clone(ctx context.Context, authedURL, dest string, shallow bool, timeout time.Duration) gitexec.Outcome
	Pull(ctx context.Context, dir string, timeout time.Duration) gitexec.Outcome
}

// Confirm is called before a force-overwrite of an existing, non-empty
// destination directory. Returning false skips that repository.
type Confirm func(dir string) bool

// Engine runs bulk clone/pull operations.
type Engine struct {
	adapter provider.Adapter
	runner  GitRunner
	confirm Confirm
}

// New builds an Engine. confirm may be nil, in which case force-overwrite
// always proceeds (suitable for non-interactive runs with --force).
func New(adapter provider.Adapter, runner GitRunner, confirm Confirm) *Engine {
	if confirm == nil {
		confirm = func(string) bool { return true }
	}
	return &Engine{adapter: adapter, runner: runner, confirm: confirm}
}

// Run processes repos into targetDir according to opts, sending progress
// events on events (if non-nil) as work completes. Run returns once every
// repository has been processed or ctx is canceled; on cancellation,
// in-flight git subprocesses get gitexec's cancellation grace period before
// being killed, and every repository not yet started is recorded as skipped
// with a "cancelled" reason.
func (e *Engine) Run(ctx context.Context, repos []provider.Repository, targetDir string, opts OperationOptions, events chan<- Event) (*BulkResult, error) {
	opts = opts.Clamp()

	result := &BulkResult{Outcomes: make([]RepoOutcome, 0, len(repos))}
	var mu sync.Mutex

	p := pool.New().WithContext(ctx).WithMaxGoroutines(opts.Concurrency)

	for _, repo := range repos {
		repo := repo
		p.Go(func(ctx context.Context) error {
			emitGuaranteed(ctx, events, Event{Kind: EventStarted, Repository: repo})

			oc := e.processOne(ctx, repo, targetDir, opts, events)

			mu.Lock()
			result.Outcomes = append(result.Outcomes, oc)
			mu.Unlock()

			emitGuaranteed(ctx, events, Event{Kind: EventCompleted, Repository: repo, Outcome: oc})
			return nil
		})
	}

	_ = p.Wait()

	if ctx.Err() != nil {
		result.Canceled = true
	}

	return result, nil
}

func (e *Engine) processOne(ctx context.Context, repo provider.Repository, targetDir string, opts OperationOptions, events chan<- Event) RepoOutcome {
	start := time.Now()
	dest := filepath.Join(targetDir, repo.SanitizedName())

	if ctx.Err() != nil {
		return RepoOutcome{Repository: repo, Outcome: OutcomeSkipped, Reason: "cancelled", Duration: time.Since(start)}
	}

	if !repo.MatchesFilters(opts.Include, opts.Exclude) {
		return RepoOutcome{Repository: repo, Outcome: OutcomeSkipped, Reason: "filtered-out", Duration: time.Since(start)}
	}
	if repo.Archived {
		return RepoOutcome{Repository: repo, Outcome: OutcomeSkipped, Reason: "disabled", Duration: time.Since(start)}
	}

	exists := dirExists(dest)

	if opts.DryRun {
		outcome := OutcomeWouldRun
		if exists && opts.ExistingDir == PolicySkip {
			outcome = OutcomeSkipped
		}
		return RepoOutcome{Repository: repo, Outcome: outcome, Duration: time.Since(start)}
	}

	if exists {
		switch opts.ExistingDir {
		case PolicySkip:
			return RepoOutcome{Repository: repo, Outcome: OutcomeSkipped, Reason: "destination already exists", Duration: time.Since(start)}
		case PolicyPull:
			emit(events, Event{Kind: EventProgress, Repository: repo, Message: "pulling"})
			res := e.runner.Pull(ctx, dest, opts.PerRepoLimit)
			return toOutcome(repo, OutcomePulled, res, start)
		case PolicyForce:
			if !e.confirm(dest) {
				return RepoOutcome{Repository: repo, Outcome: OutcomeSkipped, Reason: "force overwrite declined", Duration: time.Since(start)}
			}
			if err := os.RemoveAll(dest); err != nil {
				return RepoOutcome{Repository: repo, Outcome: OutcomeFailed, Reason: fmt.Sprintf("failed to clear destination: %v", err), Duration: time.Since(start)}
			}
		}
	}

	authedURL, err := e.adapter.AuthenticatedCloneURL(repo)
	if err != nil {
		return RepoOutcome{Repository: repo, Outcome: OutcomeFailed, Reason: err.Error(), Duration: time.Since(start)}
	}

	emit(events, Event{Kind: EventProgress, Repository: repo, Message: "cloning"})
	res := e.runner.Clone(ctx, authedURL, dest, opts.Shallow, opts.PerRepoLimit)
	return toOutcome(repo, OutcomeCloned, res, start)
}

func toOutcome(repo provider.Repository, success Outcome, res gitexec.Outcome, start time.Time) RepoOutcome {
	if res.Success {
		return RepoOutcome{Repository: repo, Outcome: success, Duration: time.Since(start)}
	}
	return RepoOutcome{Repository: repo, Outcome: OutcomeFailed, Reason: res.Reason, Duration: time.Since(start)}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// emit sends a "progress" event, dropping it under backpressure rather than
// blocking a worker goroutine. Never used for started/completed.
func emit(events chan<- Event, e Event) {
	if events == nil {
		return
	}
	select {
	case events <- e:
	default:
	}
}

// emitGuaranteed sends a "started" or "completed" event, blocking (bounded
// by ctx) rather than dropping it under backpressure, per the event
// delivery guarantee that these two kinds are never lost.
func emitGuaranteed(ctx context.Context, events chan<- Event, e Event) {
	if events == nil {
		return
	}
	select {
	case events <- e:
	case <-ctx.Done():
	}
}
