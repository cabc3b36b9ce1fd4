// Package provider defines the port every hosting backend implements and
// the value types shared across adapters, the bulk engine, and the query
// engine.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a hosting backend.
type Kind string

const (
	KindAzureDevOps Kind = "azure-devops"
	KindGitHub      Kind = "github"
	KindBitbucket   Kind = "bitbucket"
)

// Capability is a feature an adapter may or may not support.
type Capability string

const (
	CapabilityProjects      Capability = "projects"
	CapabilityRateLimitInfo Capability = "rate_limit_info"
)

// Account is a configured, authenticated handle to one provider instance.
type Account struct {
	Name       string `yaml:"name"`
	Kind       Kind   `yaml:"kind"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Token      string `yaml:"token"`
	Username   string `yaml:"username,omitempty"` // Bitbucket app-password username; empty elsewhere
	DefaultOrg string `yaml:"default_org,omitempty"`
}

// OrgType distinguishes a real organization/workspace from the synthetic
// pseudo-organization that represents a user's personal namespace.
type OrgType string

const (
	OrgTypeOrganization OrgType = "organization"
	OrgTypeUser         OrgType = "user"
)

// Organization is the top-level grouping in a provider (GitHub org,
// Azure DevOps organization, Bitbucket workspace).
type Organization struct {
	Name string
	Type OrgType
}

// Project is the second-level grouping. Azure DevOps is the only provider
// with a real project tier; GitHub and Bitbucket adapters synthesize a
// single Project per organization so the three-segment query model still
// applies uniformly.
type Project struct {
	Organization string
	Name         string
}

// Repository is the leaf value every adapter yields.
type Repository struct {
	Provider      Kind
	Organization  string
	Project       string
	Name          string
	FullName      string
	CloneURL      string // https, credential-free
	SSHURL        string
	DefaultBranch string
	Private       bool
	Archived      bool
	Language      string   // best-effort; empty when the provider doesn't publish one
	Topics        []string // best-effort; empty when the provider doesn't publish any
}

// MatchesFilters reports whether r passes the given include/exclude glob
// lists applied to its repository name (not the "org/repo" full name). An
// empty include list matches everything.
func (r Repository) MatchesFilters(include, exclude []string) bool {
	if len(exclude) > 0 && anyMatch(exclude, r.Name) {
		return false
	}
	if len(include) == 0 {
		return true
	}
	return anyMatch(include, r.Name)
}

// RepositoryFilters narrows a ListRepositories call. Every field is
// optional; a zero-value RepositoryFilters matches everything. Adapters
// that have no native concept of a filter field ignore it.
type RepositoryFilters struct {
	Language string
	Archived *bool
	Topics   []string
}

// Matches reports whether r satisfies every set field of f.
func (f RepositoryFilters) Matches(r Repository) bool {
	if f.Language != "" && !strings.EqualFold(f.Language, r.Language) {
		return false
	}
	if f.Archived != nil && *f.Archived != r.Archived {
		return false
	}
	for _, want := range f.Topics {
		found := false
		for _, have := range r.Topics {
			if strings.EqualFold(want, have) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

const maxSanitizedNameLength = 128

var reservedDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizedName returns r.Name made safe to use as a single path component:
// path separators, control characters, and reserved device names become
// "_", consecutive underscores collapse to one, leading/trailing dots and
// spaces are stripped, and the result is capped at 128 characters.
func (r Repository) SanitizedName() string {
	var b strings.Builder
	for _, c := range r.Name {
		switch {
		case c == '/' || c == '\\' || c < 0x20 || c == 0x7f:
			b.WriteByte('_')
		default:
			b.WriteRune(c)
		}
	}
	s := b.String()

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, ". ")

	if s == "" {
		s = "_"
	}
	if reservedDeviceNames[strings.ToUpper(s)] {
		s = "_" + s
	}
	if len(s) > maxSanitizedNameLength {
		s = s[:maxSanitizedNameLength]
	}
	return s
}

func anyMatch(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name || p == "*" {
			return true
		}
	}
	return false
}

// RateLimit reports a provider's remaining request budget, when published.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// RepoOrError is one element of a streamed repository listing.
type RepoOrError struct {
	Repo Repository
	Err  error
}

// OrgOrError is one element of a streamed organization listing.
type OrgOrError struct {
	Org Organization
	Err error
}

// ProjectOrError is one element of a streamed project listing.
type ProjectOrError struct {
	Project Project
	Err     error
}

// Adapter is the port every hosting backend implements. All listing
// operations stream incrementally: an adapter must not materialize a full
// page set in memory before the first value is sent, so a caller that
// stops reading early bounds the adapter's own work too.
type Adapter interface {
	Kind() Kind

	// SupportsProjects reports whether this provider has a real
	// second-level grouping (Azure DevOps, Bitbucket) as opposed to a
	// synthetic one (GitHub). The engine consults this to decide whether
	// a project segment in a query is meaningful.
	SupportsProjects() bool

	// RequiresProject reports whether an operation must be rejected
	// before any network call when no project was given. Only Azure
	// DevOps returns true.
	RequiresProject() bool

	Authenticate(ctx context.Context) error

	// TestConnection is a lightweight reachability probe. It never
	// returns an error for an authentication failure; use Authenticate
	// for that signal.
	TestConnection(ctx context.Context) bool

	ListOrganizations(ctx context.Context) (<-chan OrgOrError, error)
	ListProjects(ctx context.Context, org string) (<-chan ProjectOrError, error)
	ListRepositories(ctx context.Context, org, project string, filters RepositoryFilters) (<-chan RepoOrError, error)

	// GetRepository returns the named repository, or (nil, nil) if no
	// such repository exists.
	GetRepository(ctx context.Context, org, repo, project string) (*Repository, error)

	AuthenticatedCloneURL(repo Repository) (string, error)

	RateLimitInfo() (*RateLimit, bool)

	// Close releases any resources (idle connections) held by the
	// adapter. Safe to call multiple times.
	Close() error
}

// Error kinds. Adapters and the configuration resolver wrap one of these
// sentinels so callers and the CLI's exit-code mapping can classify a
// failure without string matching.
var (
	ErrAuth             = fmt.Errorf("authentication failed")
	ErrNotFound         = fmt.Errorf("not found")
	ErrRateLimited      = fmt.Errorf("rate limited")
	ErrNetwork          = fmt.Errorf("network error")
	ErrPermission       = fmt.Errorf("permission denied")
	ErrProviderInternal = fmt.Errorf("provider internal error")
	ErrConfig           = fmt.Errorf("invalid configuration")
	ErrInvalidArgument  = fmt.Errorf("invalid argument")
	ErrInvalidQuery     = fmt.Errorf("invalid query")
)
