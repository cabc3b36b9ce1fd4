package gitexec

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgit-dev/mgit/internal/mask"
)

// fakeGitBin writes an executable named "git" that behaves per script into
// dir and prepends dir to PATH for the duration of the test.
func fakeGitBin(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake git binary harness is unix-only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "git")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestCloneSuccess(t *testing.T) {
	fakeGitBin(t, "exit 0")
	r := New(mask.New())
	out := r.Clone(context.Background(), "https://example.com/r.git", t.TempDir(), true, time.Second)
	assert.True(t, out.Success)
}

func TestCloneFailureMasksToken(t *testing.T) {
	fakeGitBin(t, `echo "fatal: could not access https://ghp_abcdef0123456789ABCD@github.com/org/repo.git" >&2; exit 128`)
	r := New(mask.New())
	out := r.Clone(context.Background(), "https://ghp_abcdef0123456789ABCD@github.com/org/repo.git", t.TempDir(), false, time.Second)
	assert.False(t, out.Success)
	assert.NotContains(t, out.Reason, "ghp_abcdef0123456789ABCD")
}

func TestCloneTimeout(t *testing.T) {
	fakeGitBin(t, "sleep 5")
	r := New(mask.New())
	out := r.Clone(context.Background(), "https://example.com/r.git", t.TempDir(), false, 50*time.Millisecond)
	assert.False(t, out.Success)
}

func TestCloneExitsWithinGracePeriodOnCancel(t *testing.T) {
	fakeGitBin(t, "trap 'exit 0' TERM; sleep 0.05; exit 0")
	r := New(mask.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	out := r.Clone(ctx, "https://example.com/r.git", t.TempDir(), false, time.Second)
	assert.Less(t, time.Since(start), cancelGracePeriod)
	assert.False(t, out.Success)
}
