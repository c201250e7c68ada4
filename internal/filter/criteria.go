package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MissingDatePolicy decides what the date stage does with resources that have no creation time.
type MissingDatePolicy int

const (
	// IncludeMissingDate lets undated resources pass date bounds. This is the default.
	IncludeMissingDate MissingDatePolicy = iota
	// ExcludeMissingDate rejects undated resources whenever a date bound is set.
	ExcludeMissingDate
)

func (p MissingDatePolicy) String() string {
	switch p {
	case IncludeMissingDate:
		return "include"
	case ExcludeMissingDate:
		return "exclude"
	default:
		return fmt.Sprintf("MissingDatePolicy(%d)", int(p))
	}
}

// ParseMissingDatePolicy maps "include"/"exclude" (case-insensitive, empty = include) to a policy.
func ParseMissingDatePolicy(s string) (MissingDatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "include":
		return IncludeMissingDate, nil
	case "exclude":
		return ExcludeMissingDate, nil
	default:
		return IncludeMissingDate, fmt.Errorf("unknown missing date policy %q", s)
	}
}

// Criteria is an immutable filter specification.
type Criteria struct {
	Before        *time.Time        // Exclusive upper bound on creation time
	After         *time.Time        // Inclusive lower bound on creation time
	IncludeTags   map[string]string // Resource must carry every pair
	ExcludeTags   map[string]string // Resource is rejected if it carries any pair
	ResourceTypes []string          // Read-time type predicate, see Matcher
	Regions       []string          // Read-time region predicate, see Matcher
	MatchMode     MatchMode         // Tiers the type predicate may use
	MissingDate   MissingDatePolicy
}

// HasDateBounds reports whether either date bound is set.
func (c Criteria) HasDateBounds() bool {
	return c.Before != nil || c.After != nil
}

// IsEmpty returns true if no capture-time filters are configured.
func (c Criteria) IsEmpty() bool {
	return !c.HasDateBounds() && len(c.IncludeTags) == 0 && len(c.ExcludeTags) == 0
}

// Matcher builds the read-time type/region matcher for these criteria.
func (c Criteria) Matcher() *Matcher {
	return NewMatcher(c.ResourceTypes, c.Regions, WithMatchMode(c.MatchMode))
}

// Summary describes the configured filters for humans.
func (c Criteria) Summary() string {
	var parts []string

	if c.Before != nil {
		parts = append(parts, "created before "+c.Before.UTC().Format(time.DateOnly))
	}
	if c.After != nil {
		parts = append(parts, "created on/after "+c.After.UTC().Format(time.DateOnly))
	}
	if len(c.IncludeTags) > 0 {
		parts = append(parts, "include tags: "+formatTags(c.IncludeTags))
	}
	if len(c.ExcludeTags) > 0 {
		parts = append(parts, "exclude tags: "+formatTags(c.ExcludeTags))
	}

	if len(parts) == 0 {
		return "No filters applied"
	}
	return "Filters: " + strings.Join(parts, " AND ")
}

// formatTags renders tags sorted by key so summaries are stable.
func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+tags[k])
	}
	return strings.Join(pairs, ", ")
}
