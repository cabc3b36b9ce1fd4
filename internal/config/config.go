// Package config resolves the on-disk configuration file plus environment
// overrides into an immutable Resolved tree. Resolution happens once at
// startup; nothing downstream reads os.Getenv or a config file again.
package config

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mgit-dev/mgit/internal/provider"
)

// File is the on-disk shape of the configuration file, always YAML.
type File struct {
	Global    Global                   `yaml:"global"`
	Providers map[string]ProviderEntry `yaml:"providers"`
}

// Global holds settings that apply across every provider account.
type Global struct {
	TargetDir   string `yaml:"target_dir"`
	Concurrency int    `yaml:"concurrency"`
}

// ProviderEntry is one named account in the "providers" map.
type ProviderEntry struct {
	Kind       string `yaml:"kind"`
	BaseURL    string `yaml:"base_url"`
	Token      string `yaml:"token"`
	TokenEnv   string `yaml:"token_env"`
	Username   string `yaml:"username"`
	DefaultOrg string `yaml:"default_org"`
}

// Resolved is the immutable configuration tree the rest of the program
// consumes. Once built, nothing in Resolved is mutated.
type Resolved struct {
	TargetDir   string
	Concurrency int
	Accounts    map[string]provider.Account
}

const (
	defaultConcurrency = 5
	maxConcurrency     = 50
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads path, enforces owner-only file permissions, interpolates
// ${NAME} references against the process environment, and resolves the
// result into a Resolved tree.
func Load(path string) (*Resolved, error) {
	if err := checkPermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", provider.ErrConfig, path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", provider.ErrConfig, path, err)
	}

	return resolve(&f)
}

func resolve(f *File) (*Resolved, error) {
	r := &Resolved{
		TargetDir:   interpolate(f.Global.TargetDir),
		Concurrency: clampConcurrency(f.Global.Concurrency),
		Accounts:    make(map[string]provider.Account, len(f.Providers)),
	}

	for name, entry := range f.Providers {
		acc, err := resolveAccount(name, entry)
		if err != nil {
			return nil, err
		}
		r.Accounts[name] = acc
	}

	return r, nil
}

func resolveAccount(name string, entry ProviderEntry) (provider.Account, error) {
	kind := provider.Kind(entry.Kind)
	switch kind {
	case provider.KindAzureDevOps, provider.KindGitHub, provider.KindBitbucket:
	default:
		return provider.Account{}, fmt.Errorf("%w: account %q has unknown kind %q", provider.ErrConfig, name, entry.Kind)
	}

	token := interpolate(entry.Token)
	if token == "" && entry.TokenEnv != "" {
		token = os.Getenv(entry.TokenEnv)
	}
	if v, ok := envOverride(name, "TOKEN"); ok {
		token = v
	}
	if token == "" {
		return provider.Account{}, fmt.Errorf("%w: account %q has no resolvable token", provider.ErrConfig, name)
	}

	baseURL := interpolate(entry.BaseURL)
	if v, ok := envOverride(name, "BASE_URL"); ok {
		baseURL = v
	}
	username := interpolate(entry.Username)
	if v, ok := envOverride(name, "USERNAME"); ok {
		username = v
	}
	defaultOrg := interpolate(entry.DefaultOrg)
	if v, ok := envOverride(name, "DEFAULT_ORG"); ok {
		defaultOrg = v
	}

	return provider.Account{
		Name:       name,
		Kind:       kind,
		BaseURL:    baseURL,
		Token:      token,
		Username:   username,
		DefaultOrg: defaultOrg,
	}, nil
}

// envOverride looks up MGIT_<ACCOUNT>_<FIELD>, the well-known environment
// override name for a configured account's field. Environment variables
// always win over file values, matching the documented configuration
// layering (file, then environment, resolved once at startup).
func envOverride(accountName, field string) (string, bool) {
	return os.LookupEnv(envVarName(accountName, field))
}

func envVarName(accountName, field string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r == '-' || r == ' ':
			return '_'
		default:
			return r
		}
	}, accountName)
	return "MGIT_" + safe + "_" + field
}

// interpolate replaces every ${NAME} reference in s with the value of the
// environment variable NAME. A reference to an unset variable resolves to
// the empty string, matching shell parameter expansion's default behavior.
func interpolate(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		return os.Getenv(name)
	})
}

func clampConcurrency(v int) int {
	if v <= 0 {
		return defaultConcurrency
	}
	if v > maxConcurrency {
		return maxConcurrency
	}
	return v
}

// checkPermissions refuses to load a config file that grants access to
// anyone other than its owner. Skipped on Windows, where the POSIX
// permission bits this check relies on do not apply.
func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", provider.ErrConfig, path, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("%w: %s is more permissive than 0600; chmod it down before loading", provider.ErrConfig, path)
	}
	return nil
}
