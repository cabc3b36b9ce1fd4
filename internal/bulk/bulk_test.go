package bulk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgit-dev/mgit/internal/gitexec"
	"github.com/mgit-dev/mgit/internal/provider"
)

type fakeAdapter struct {
	provider.Adapter
}

func (fakeAdapter) AuthenticatedCloneURL(repo provider.Repository) (string, error) {
	return "https://token@example.com/" + repo.FullName + ".git", nil
}

type fakeRunner struct {
	mu        sync.Mutex
	cloned    []string
	pulled    []string
	failNames map[string]bool
	delay     time.Duration
}

func (f *fakeRunner) Clone(ctx context.Context, authedURL, dest string, shallow bool, timeout time.Duration) gitexec.Outcome {
	f.mu.Lock()
	f.cloned = append(f.cloned, dest)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return gitexec.Outcome{Success: false, Reason: "canceled"}
		}
	}

	if f.failNames[filepath.Base(dest)] {
		return gitexec.Outcome{Success: false, Reason: "simulated failure"}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return gitexec.Outcome{Success: false, Reason: err.Error()}
	}
	return gitexec.Outcome{Success: true}
}

func (f *fakeRunner) Pull(ctx context.Context, dir string, timeout time.Duration) gitexec.Outcome {
	f.mu.Lock()
	f.pulled = append(f.pulled, dir)
	f.mu.Unlock()
	return gitexec.Outcome{Success: true}
}

func repos(names ...string) []provider.Repository {
	out := make([]provider.Repository, len(names))
	for i, n := range names {
		out[i] = provider.Repository{Organization: "acme", Name: n, FullName: "acme/" + n}
	}
	return out
}

func TestRunClonesNewRepositories(t *testing.T) {
	target := t.TempDir()
	runner := &fakeRunner{failNames: map[string]bool{}}
	e := New(fakeAdapter{}, runner, nil)

	result, err := e.Run(context.Background(), repos("a", "b"), target, OperationOptions{Concurrency: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CountByOutcome(OutcomeCloned))
}

func TestRunSkipsExistingDirectoryByDefault(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(target, "a"), 0o755))
	runner := &fakeRunner{failNames: map[string]bool{}}
	e := New(fakeAdapter{}, runner, nil)

	result, err := e.Run(context.Background(), repos("a"), target, OperationOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CountByOutcome(OutcomeSkipped))
	assert.Empty(t, runner.cloned, "clone should not have been called")
}

func TestRunPullsExistingDirectoryWithPullPolicy(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(target, "a"), 0o755))
	runner := &fakeRunner{failNames: map[string]bool{}}
	e := New(fakeAdapter{}, runner, nil)

	result, err := e.Run(context.Background(), repos("a"), target, OperationOptions{ExistingDir: PolicyPull}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CountByOutcome(OutcomePulled))
}

func TestRunForcePolicyRespectsConfirmRefusal(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(target, "a"), 0o755))
	runner := &fakeRunner{failNames: map[string]bool{}}
	e := New(fakeAdapter{}, runner, func(string) bool { return false })

	result, err := e.Run(context.Background(), repos("a"), target, OperationOptions{ExistingDir: PolicyForce}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CountByOutcome(OutcomeSkipped), "expected skip on confirm refusal")
}

func TestRunIsolatesFailuresPerRepository(t *testing.T) {
	target := t.TempDir()
	runner := &fakeRunner{failNames: map[string]bool{"b": true}}
	e := New(fakeAdapter{}, runner, nil)

	result, err := e.Run(context.Background(), repos("a", "b", "c"), target, OperationOptions{Concurrency: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CountByOutcome(OutcomeFailed))
	assert.Equal(t, 2, result.CountByOutcome(OutcomeCloned))
}

func TestRunRespectsConcurrencyBound(t *testing.T) {
	target := t.TempDir()
	runner := &fakeRunner{failNames: map[string]bool{}, delay: 20 * time.Millisecond}
	e := New(fakeAdapter{}, runner, nil)

	names := make([]string, 10)
	for i := range names {
		names[i] = string(rune('a' + i))
	}

	start := time.Now()
	_, err := e.Run(context.Background(), repos(names...), target, OperationOptions{Concurrency: 2}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*runner.delay, "expected serialized-by-bound duration")
}

func TestRunDryRunMakesNoChanges(t *testing.T) {
	target := t.TempDir()
	runner := &fakeRunner{failNames: map[string]bool{}}
	e := New(fakeAdapter{}, runner, nil)

	result, err := e.Run(context.Background(), repos("a"), target, OperationOptions{DryRun: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CountByOutcome(OutcomeWouldRun))
	assert.Empty(t, runner.cloned, "dry run must not invoke clone")
}

func TestRunSkipsArchivedRepositories(t *testing.T) {
	target := t.TempDir()
	runner := &fakeRunner{failNames: map[string]bool{}}
	e := New(fakeAdapter{}, runner, nil)

	rs := repos("a", "b")
	rs[1].Archived = true

	result, err := e.Run(context.Background(), rs, target, OperationOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CountByOutcome(OutcomeSkipped))
	assert.Equal(t, 1, result.CountByOutcome(OutcomeCloned))
}

func TestRunAppliesIncludeExcludeFilters(t *testing.T) {
	target := t.TempDir()
	runner := &fakeRunner{failNames: map[string]bool{}}
	e := New(fakeAdapter{}, runner, nil)

	result, err := e.Run(context.Background(), repos("a", "b", "c"), target, OperationOptions{
		Include: []string{"a", "b"},
		Exclude: []string{"b"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CountByOutcome(OutcomeCloned), "expected only 'a' to clone")
	require.Len(t, runner.cloned, 1)
	assert.Equal(t, "a", filepath.Base(runner.cloned[0]))
}

func TestRunNeverDropsStartedOrCompletedEvents(t *testing.T) {
	target := t.TempDir()
	runner := &fakeRunner{failNames: map[string]bool{}}
	e := New(fakeAdapter{}, runner, nil)

	names := make([]string, 20)
	for i := range names {
		names[i] = fmt.Sprintf("r%02d", i)
	}

	events := make(chan Event) // unbuffered, to force backpressure
	var started, completed int32
	drained := make(chan struct{})
	go func() {
		for ev := range events {
			switch ev.Kind {
			case EventStarted:
				atomic.AddInt32(&started, 1)
			case EventCompleted:
				atomic.AddInt32(&completed, 1)
			}
		}
		close(drained)
	}()

	_, err := e.Run(context.Background(), repos(names...), target, OperationOptions{Concurrency: 10}, events)
	close(events)
	<-drained

	require.NoError(t, err)
	assert.EqualValues(t, len(names), started, "expected every started event to be delivered")
	assert.EqualValues(t, len(names), completed, "expected every completed event to be delivered")
}

func TestRunCancellationMarksCanceled(t *testing.T) {
	target := t.TempDir()
	runner := &fakeRunner{failNames: map[string]bool{}, delay: time.Second}
	e := New(fakeAdapter{}, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := e.Run(ctx, repos("a", "b", "c"), target, OperationOptions{Concurrency: 3}, nil)
	require.NoError(t, err)
	assert.True(t, result.Canceled)
}
