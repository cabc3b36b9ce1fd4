package account

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgit-dev/mgit/internal/provider"
)

func TestFileStoreSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "accounts.yaml")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	acc := provider.Account{Name: "acme-github", Kind: provider.KindGitHub, Token: "ghp_x"}
	require.NoError(t, s.Save(acc))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reloaded.Get("acme-github")
	require.NoError(t, err)
	assert.Equal(t, "ghp_x", got.Token)
}

func TestFileStoreDeleteAndNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(provider.Account{Name: "a", Kind: provider.KindGitHub, Token: "t"}))
	require.NoError(t, s.Delete("a"))

	_, err = s.Get("a")
	assert.Error(t, err)
	assert.Error(t, s.Delete("a"), "deleting an already-deleted account should error")
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	acc := provider.Account{Name: "x", Kind: provider.KindBitbucket, Token: "t", Username: "u"}
	require.NoError(t, s.Save(acc))
	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
