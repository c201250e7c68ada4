package resource

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrEmptyARN is returned when a resource has no identity.
	ErrEmptyARN = errors.New("resource has empty arn")
	// ErrDuplicateARN is returned when two resources in one collection share an identity.
	ErrDuplicateARN = errors.New("duplicate arn in collection")
	// ErrInvalidHash is returned when a config hash is not a 64-char lowercase hex digest.
	ErrInvalidHash = errors.New("invalid config hash")
	// ErrNotARN is returned by strict validation for identities that do not parse as ARNs.
	ErrNotARN = errors.New("identity is not an arn")
	// ErrMissingHash is returned when reconciliation input carries a resource with no config hash.
	ErrMissingHash = errors.New("resource has no config hash")
)

// Collection is the set of resources captured at one instant.
type Collection struct {
	Name      string     `json:"name" yaml:"name"`
	AccountID string     `json:"account_id" yaml:"account_id"`
	Regions   []string   `json:"regions" yaml:"regions"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	Resources []Resource `json:"resources" yaml:"resources"`
}

// Len returns the number of resources.
func (c Collection) Len() int {
	return len(c.Resources)
}

// Validate checks the invariants reconciliation relies on: every ARN is
// non-empty and unique, and every present config hash is well formed.
func (c Collection) Validate() error {
	seen := make(map[string]struct{}, len(c.Resources))
	for i, r := range c.Resources {
		if r.ARN == "" {
			return fmt.Errorf("%s: resource %d: %w", c.label(), i, ErrEmptyARN)
		}
		if _, dup := seen[r.ARN]; dup {
			return fmt.Errorf("%s: %s: %w", c.label(), r.ARN, ErrDuplicateARN)
		}
		seen[r.ARN] = struct{}{}
		if r.ConfigHash != "" && !ValidHash(r.ConfigHash) {
			return fmt.Errorf("%s: %s: %w %q", c.label(), r.ARN, ErrInvalidHash, r.ConfigHash)
		}
	}
	return nil
}

// ValidateStrict runs Validate and additionally requires every identity to be an AWS ARN.
func (c Collection) ValidateStrict() error {
	if err := c.Validate(); err != nil {
		return err
	}
	for _, r := range c.Resources {
		if _, err := ParseARN(r.ARN); err != nil {
			return fmt.Errorf("%s: %s: %w: %v", c.label(), r.ARN, ErrNotARN, err)
		}
	}
	return nil
}

// RequireHashes reports the first resource without a config hash. Unstamped
// resources would otherwise compare equal regardless of their configuration.
func (c Collection) RequireHashes() error {
	for _, r := range c.Resources {
		if r.ConfigHash == "" {
			return fmt.Errorf("%s: %s: %w", c.label(), r.ARN, ErrMissingHash)
		}
	}
	return nil
}

// ServiceCounts counts resources per service segment.
func (c Collection) ServiceCounts() map[string]int {
	counts := make(map[string]int)
	for _, r := range c.Resources {
		counts[r.Service()]++
	}
	return counts
}

// ARNs returns the sorted identities in the collection.
func (c Collection) ARNs() []string {
	arns := make([]string, 0, len(c.Resources))
	for _, r := range c.Resources {
		arns = append(arns, r.ARN)
	}
	sort.Strings(arns)
	return arns
}

func (c Collection) label() string {
	if c.Name == "" {
		return "collection"
	}
	return "collection " + c.Name
}
