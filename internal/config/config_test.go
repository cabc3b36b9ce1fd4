package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mgit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	return path
}

func TestLoadResolvesAccountsAndInterpolatesEnv(t *testing.T) {
	t.Setenv("ACME_GH_TOKEN", "ghp_resolved_token_value")

	path := writeConfig(t, `
global:
  target_dir: /repos
  concurrency: 8
providers:
  acme-github:
    kind: github
    token: ${ACME_GH_TOKEN}
    default_org: acme
`, 0o600)

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/repos", r.TargetDir)
	assert.Equal(t, 8, r.Concurrency)

	acc, ok := r.Accounts["acme-github"]
	require.True(t, ok, "expected account acme-github")
	assert.Equal(t, "ghp_resolved_token_value", acc.Token)
	assert.Equal(t, "acme", acc.DefaultOrg)
}

func TestLoadAppliesPerAccountEnvOverrides(t *testing.T) {
	t.Setenv("MGIT_ACME_GITHUB_TOKEN", "ghp_override_token")
	t.Setenv("MGIT_ACME_GITHUB_DEFAULT_ORG", "override-org")

	path := writeConfig(t, `
providers:
  acme-github:
    kind: github
    token: ghp_file_token
    default_org: file-org
`, 0o600)

	r, err := Load(path)
	require.NoError(t, err)

	acc, ok := r.Accounts["acme-github"]
	require.True(t, ok)
	assert.Equal(t, "ghp_override_token", acc.Token, "expected env override to win over the file value")
	assert.Equal(t, "override-org", acc.DefaultOrg)
}

func TestLoadRejectsPermissiveFile(t *testing.T) {
	path := writeConfig(t, `global: {}`, 0o644)
	_, err := Load(path)
	assert.Error(t, err, "expected error for world-readable config file")
}

func TestLoadRejectsUnknownProviderKind(t *testing.T) {
	path := writeConfig(t, `
providers:
  bad:
    kind: not-a-provider
    token: x
`, 0o600)
	_, err := Load(path)
	assert.Error(t, err, "expected error for unknown provider kind")
}

func TestLoadRejectsMissingToken(t *testing.T) {
	path := writeConfig(t, `
providers:
  acme:
    kind: github
`, 0o600)
	_, err := Load(path)
	assert.Error(t, err, "expected error for account with no resolvable token")
}

func TestConcurrencyDefaultsAndClamps(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, defaultConcurrency},
		{-1, defaultConcurrency},
		{3, 3},
		{1000, maxConcurrency},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, clampConcurrency(c.in), "clampConcurrency(%d)", c.in)
	}
}

func TestInterpolateLeavesUnsetVarsEmpty(t *testing.T) {
	assert.Equal(t, "prefix--suffix", interpolate("prefix-${THIS_VAR_IS_NOT_SET_12345}-suffix"))
}

func TestResolvedValidate(t *testing.T) {
	r := &Resolved{Concurrency: 5}
	assert.NoError(t, r.Validate())

	r.Concurrency = 0
	assert.Error(t, r.Validate(), "expected error for zero concurrency")
}
