// Package query compiles and evaluates the three-segment
// organization/project/repository wildcard patterns accepted by the list
// and bulk-operation commands.
package query

import (
	"fmt"
	"strings"

	"github.com/mgit-dev/mgit/internal/provider"
)

const maxSegmentLength = 512

// Query is a compiled three-segment pattern, case-insensitive.
type Query struct {
	org     segmentMatcher
	project segmentMatcher
	repo    segmentMatcher
}

// Compile parses "org/project/repo" into a Query. Each segment may be a
// literal, "*", "prefix*", "*suffix", or "*infix*". Exactly three
// slash-separated segments are required; anything else is rejected.
func Compile(pattern string) (*Query, error) {
	segments := strings.Split(pattern, "/")
	if len(segments) != 3 {
		return nil, fmt.Errorf("%w: invalid query %q: expected exactly 3 segments (org/project/repo), got %d", provider.ErrInvalidQuery, pattern, len(segments))
	}

	matchers := make([]segmentMatcher, 3)
	for i, seg := range segments {
		m, err := compileSegment(seg)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid query %q: segment %d: %v", provider.ErrInvalidQuery, pattern, i+1, err)
		}
		matchers[i] = m
	}

	return &Query{org: matchers[0], project: matchers[1], repo: matchers[2]}, nil
}

// Matches reports whether the given org/project/repo triple satisfies q.
func (q *Query) Matches(org, project, repo string) bool {
	return q.org.match(org) && q.project.match(project) && q.repo.match(repo)
}

// MatchesOrg reports whether org alone could still lead to a match,
// allowing callers to skip listing a project/repository tier early.
func (q *Query) MatchesOrg(org string) bool {
	return q.org.match(org)
}

// MatchesProject reports whether org/project alone could still lead to a
// match. Providers with no real project tier pass a synthetic project
// name consistently (see provider.Project) and this still composes.
func (q *Query) MatchesProject(project string) bool {
	return q.project.match(project)
}

type segmentKind int

const (
	kindAny segmentKind = iota
	kindLiteral
	kindPrefix
	kindSuffix
	kindInfix
)

type segmentMatcher struct {
	kind    segmentKind
	literal string // lowercased
}

func compileSegment(seg string) (segmentMatcher, error) {
	if len(seg) == 0 {
		return segmentMatcher{}, fmt.Errorf("empty segment")
	}
	if len(seg) > maxSegmentLength {
		return segmentMatcher{}, fmt.Errorf("segment too long (max %d)", maxSegmentLength)
	}
	for _, r := range seg {
		if r < 0x20 || r == 0x7f {
			return segmentMatcher{}, fmt.Errorf("segment contains control characters")
		}
	}

	lower := strings.ToLower(seg)

	if lower == "*" {
		return segmentMatcher{kind: kindAny}, nil
	}

	hasPrefix := strings.HasPrefix(lower, "*")
	hasSuffix := strings.HasSuffix(lower, "*")

	switch {
	case hasPrefix && hasSuffix && len(lower) > 1:
		return segmentMatcher{kind: kindInfix, literal: lower[1 : len(lower)-1]}, nil
	case hasPrefix:
		return segmentMatcher{kind: kindSuffix, literal: lower[1:]}, nil
	case hasSuffix:
		return segmentMatcher{kind: kindPrefix, literal: lower[:len(lower)-1]}, nil
	default:
		return segmentMatcher{kind: kindLiteral, literal: lower}, nil
	}
}

func (m segmentMatcher) match(s string) bool {
	lower := strings.ToLower(s)
	switch m.kind {
	case kindAny:
		return true
	case kindLiteral:
		return lower == m.literal
	case kindPrefix:
		return strings.HasPrefix(lower, m.literal)
	case kindSuffix:
		return strings.HasSuffix(lower, m.literal)
	case kindInfix:
		return strings.Contains(lower, m.literal)
	default:
		return false
	}
}
