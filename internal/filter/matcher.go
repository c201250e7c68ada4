package filter

import (
	"fmt"
	"strings"

	"github.com/yairfalse/snapdelta/pkg/resource"
)

// MatchTier says how a resource type satisfied a type predicate.
// Lower non-zero tiers are more precise.
type MatchTier int

const (
	// NoMatch means no candidate filter matched.
	NoMatch MatchTier = iota
	// ExactMatch is case-insensitive equality with the full type.
	ExactMatch
	// ServicePrefixMatch means the filter named a whole service ("ec2" matches "AWS::EC2::*").
	ServicePrefixMatch
	// SubstringMatch means the filter appears anywhere in the type.
	SubstringMatch
)

func (t MatchTier) String() string {
	switch t {
	case ExactMatch:
		return "exact"
	case ServicePrefixMatch:
		return "service_prefix"
	case SubstringMatch:
		return "substring"
	default:
		return "none"
	}
}

// MatchMode selects which tiers a type predicate may use.
type MatchMode int

const (
	// FlexibleMatch tries exact, service prefix and substring tiers in turn. This is the default.
	FlexibleMatch MatchMode = iota
	// ExactMatchOnly accepts only case-insensitive equality with the full type.
	ExactMatchOnly
)

func (m MatchMode) String() string {
	switch m {
	case FlexibleMatch:
		return "flexible"
	case ExactMatchOnly:
		return "exact"
	default:
		return fmt.Sprintf("MatchMode(%d)", int(m))
	}
}

// ParseMatchMode maps "flexible"/"exact" (case-insensitive, empty = flexible) to a mode.
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flexible":
		return FlexibleMatch, nil
	case "exact":
		return ExactMatchOnly, nil
	default:
		return FlexibleMatch, fmt.Errorf("unknown match mode %q", s)
	}
}

// MatchResult is the outcome of matching one resource.
type MatchResult struct {
	Matched bool
	Tier    MatchTier // NoMatch when no type predicate is configured
	Filter  string    // Candidate filter that produced Tier
}

// Matcher is the read-time type/region predicate used to narrow report views.
type Matcher struct {
	types   []string
	regions map[string]struct{}
	mode    MatchMode
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithMatchMode restricts the tiers type predicates may match at.
func WithMatchMode(mode MatchMode) MatcherOption {
	return func(m *Matcher) {
		m.mode = mode
	}
}

// NewMatcher creates a matcher. Values are compared case-insensitively.
func NewMatcher(types, regions []string, opts ...MatcherOption) *Matcher {
	m := &Matcher{}
	for _, opt := range opts {
		opt(m)
	}
	for _, t := range types {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			m.types = append(m.types, t)
		}
	}
	if len(regions) > 0 {
		m.regions = make(map[string]struct{}, len(regions))
		for _, r := range regions {
			if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
				m.regions[r] = struct{}{}
			}
		}
	}
	return m
}

// IsEmpty returns true if neither predicate is configured.
func (m *Matcher) IsEmpty() bool {
	return m == nil || (len(m.types) == 0 && len(m.regions) == 0)
}

// MatchRegion is a case-insensitive exact match. No region predicate matches everything.
func (m *Matcher) MatchRegion(region string) bool {
	if m == nil || len(m.regions) == 0 {
		return true
	}
	_, ok := m.regions[strings.ToLower(region)]
	return ok
}

// MatchType evaluates each candidate filter in order and returns the first tier
// that matches, along with the candidate.
func (m *Matcher) MatchType(resourceType string) (MatchTier, string) {
	if m == nil {
		return NoMatch, ""
	}
	typ := strings.ToLower(resourceType)
	for _, f := range m.types {
		if tier := matchTier(typ, f, m.mode); tier != NoMatch {
			return tier, f
		}
	}
	return NoMatch, ""
}

// matchTier applies exact, then service prefix, then substring.
func matchTier(typ, f string, mode MatchMode) MatchTier {
	if typ == f {
		return ExactMatch
	}
	if mode == ExactMatchOnly {
		return NoMatch
	}
	if strings.HasPrefix(typ, "aws::"+f+"::") {
		return ServicePrefixMatch
	}
	if strings.Contains(typ, f) {
		return SubstringMatch
	}
	return NoMatch
}

// Match checks region then type.
func (m *Matcher) Match(r resource.Resource) MatchResult {
	if m.IsEmpty() {
		return MatchResult{Matched: true}
	}
	if !m.MatchRegion(r.Region) {
		return MatchResult{}
	}
	if len(m.types) == 0 {
		return MatchResult{Matched: true}
	}
	tier, f := m.MatchType(r.Type)
	return MatchResult{Matched: tier != NoMatch, Tier: tier, Filter: f}
}

// Matches is Match reduced to a boolean.
func (m *Matcher) Matches(r resource.Resource) bool {
	return m.Match(r).Matched
}

// Select returns the matching resources in input order.
func (m *Matcher) Select(resources []resource.Resource) []resource.Resource {
	if m.IsEmpty() {
		return resources
	}
	out := make([]resource.Resource, 0, len(resources))
	for _, r := range resources {
		if m.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
