package resource

import "time"

// DiffType represents the classification of a resource after reconciliation.
type DiffType string

const (
	// DiffAdded indicates the resource exists only in the current collection.
	DiffAdded DiffType = "added"
	// DiffDeleted indicates the resource exists only in the baseline.
	DiffDeleted DiffType = "deleted"
	// DiffModified indicates both sides carry the resource with different config hashes.
	DiffModified DiffType = "modified"
	// DiffUnchanged indicates both sides carry the resource with equal config hashes.
	DiffUnchanged DiffType = "unchanged"
)

// FieldChange is one field-level difference between two raw configs,
// expressed as a JSON pointer path.
type FieldChange struct {
	Op       string `json:"op" yaml:"op"`
	Path     string `json:"path" yaml:"path"`
	Previous any    `json:"previous,omitempty" yaml:"previous,omitempty"`
	Current  any    `json:"current,omitempty" yaml:"current,omitempty"`
}

// ModifiedResource pairs the two snapshots of a resource whose config changed.
type ModifiedResource struct {
	Baseline Resource      `json:"baseline" yaml:"baseline"`
	Current  Resource      `json:"current" yaml:"current"`
	OldHash  string        `json:"old_config_hash" yaml:"old_config_hash"`
	NewHash  string        `json:"new_config_hash" yaml:"new_config_hash"`
	Changes  []FieldChange `json:"changes,omitempty" yaml:"changes,omitempty"`
}

// DeltaReport is the result of reconciling a baseline against a current collection.
// Added, Deleted and Modified are pairwise disjoint by ARN. Unchanged is only
// populated when explicitly requested.
type DeltaReport struct {
	BaselineName  string             `json:"baseline_name" yaml:"baseline_name"`
	CurrentName   string             `json:"current_name" yaml:"current_name"`
	GeneratedAt   time.Time          `json:"generated_at" yaml:"generated_at"`
	Added         []Resource         `json:"added" yaml:"added"`
	Deleted       []Resource         `json:"deleted" yaml:"deleted"`
	Modified      []ModifiedResource `json:"modified" yaml:"modified"`
	Unchanged     []Resource         `json:"unchanged,omitempty" yaml:"unchanged,omitempty"`
	BaselineCount int                `json:"baseline_count" yaml:"baseline_count"`
	CurrentCount  int                `json:"current_count" yaml:"current_count"`
}

// UnchangedCount is the number of baseline resources that are still present with the same hash.
func (d *DeltaReport) UnchangedCount() int {
	return d.BaselineCount - len(d.Deleted) - len(d.Modified)
}

// TotalChanges counts added, deleted and modified resources.
func (d *DeltaReport) TotalChanges() int {
	return len(d.Added) + len(d.Deleted) + len(d.Modified)
}

// HasChanges reports whether anything was added, deleted or modified.
func (d *DeltaReport) HasChanges() bool {
	return d.TotalChanges() > 0
}

// TypeChanges groups the changes of a single resource type.
type TypeChanges struct {
	Added    []Resource
	Deleted  []Resource
	Modified []ModifiedResource
}

// GroupByType groups changes by resource type.
func (d *DeltaReport) GroupByType() map[string]*TypeChanges {
	grouped := make(map[string]*TypeChanges)
	get := func(typ string) *TypeChanges {
		g, ok := grouped[typ]
		if !ok {
			g = &TypeChanges{}
			grouped[typ] = g
		}
		return g
	}

	for _, r := range d.Added {
		g := get(r.Type)
		g.Added = append(g.Added, r)
	}
	for _, r := range d.Deleted {
		g := get(r.Type)
		g.Deleted = append(g.Deleted, r)
	}
	for _, m := range d.Modified {
		g := get(m.Current.Type)
		g.Modified = append(g.Modified, m)
	}
	return grouped
}
