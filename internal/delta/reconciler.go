// Package delta reconciles a baseline collection against a current one.
package delta

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wI2L/jsondiff"

	"github.com/yairfalse/snapdelta/internal/filter"
	"github.com/yairfalse/snapdelta/internal/fingerprint"
	"github.com/yairfalse/snapdelta/pkg/resource"
)

// Reconciler partitions two collections into added, deleted, modified and
// unchanged resources by ARN and config hash. It holds no state between calls.
type Reconciler struct {
	currentFilter    *filter.Matcher
	includeUnchanged bool
	summarizer       *fingerprint.Hasher
	stamper          *fingerprint.Hasher
	strictARN        bool
	now              func() time.Time
	log              zerolog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithCurrentFilter narrows the current side before reconciliation. The
// baseline keeps its full membership, so a baseline resource that the filter
// hides on the current side is reported as deleted.
func WithCurrentFilter(m *filter.Matcher) Option {
	return func(r *Reconciler) {
		r.currentFilter = m
	}
}

// WithUnchanged materializes unchanged resources in DeltaReport.Unchanged.
func WithUnchanged(include bool) Option {
	return func(r *Reconciler) {
		r.includeUnchanged = include
	}
}

// WithChangeSummary records field-level changes for modified resources. The
// hasher's exclusion set is applied first so volatile fields never show up.
func WithChangeSummary(h *fingerprint.Hasher) Option {
	return func(r *Reconciler) {
		r.summarizer = h
	}
}

// WithHasher stamps resources that arrive without a config hash before they
// are compared. The caller's collections are not modified. Without it, an
// unhashed resource on either side fails reconciliation with
// resource.ErrMissingHash.
func WithHasher(h *fingerprint.Hasher) Option {
	return func(r *Reconciler) {
		r.stamper = h
	}
}

// WithStrictARN requires every identity on both sides to parse as an AWS ARN.
func WithStrictARN(strict bool) Option {
	return func(r *Reconciler) {
		r.strictARN = strict
	}
}

// WithClock sets the clock used for DeltaReport.GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.log = log
	}
}

// New creates a new Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		now: time.Now,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("component", "delta").Logger()
	return r
}

// Reconcile compares baseline against current. Both collections must pass
// validation and carry a config hash on every resource; a duplicate ARN on
// either side is an error, not last-write-wins. Report slices are ordered by ARN.
func (rc *Reconciler) Reconcile(baseline, current resource.Collection) (*resource.DeltaReport, error) {
	baseline = rc.stampMissing(baseline)
	current = rc.stampMissing(current)

	if err := rc.validate(baseline); err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	if err := rc.validate(current); err != nil {
		return nil, fmt.Errorf("current: %w", err)
	}

	currentResources := current.Resources
	if !rc.currentFilter.IsEmpty() {
		currentResources = rc.currentFilter.Select(currentResources)
	}

	baseIdx := buildIndex(baseline.Resources)
	curIdx := buildIndex(currentResources)

	report := &resource.DeltaReport{
		BaselineName:  baseline.Name,
		CurrentName:   current.Name,
		GeneratedAt:   rc.now().UTC(),
		Added:         []resource.Resource{},
		Deleted:       []resource.Resource{},
		Modified:      []resource.ModifiedResource{},
		BaselineCount: baseIdx.len(),
		CurrentCount:  curIdx.len(),
	}
	if rc.includeUnchanged {
		report.Unchanged = []resource.Resource{}
	}

	rc.findDeletedAndModified(report, baseIdx, curIdx)
	rc.findAdded(report, baseIdx, curIdx)

	rc.log.Info().
		Str("baseline", baseline.Name).
		Str("current", current.Name).
		Int("added", len(report.Added)).
		Int("deleted", len(report.Deleted)).
		Int("modified", len(report.Modified)).
		Int("unchanged", report.UnchangedCount()).
		Msg("delta calculated")

	return report, nil
}

func (rc *Reconciler) validate(c resource.Collection) error {
	validate := c.Validate
	if rc.strictARN {
		validate = c.ValidateStrict
	}
	if err := validate(); err != nil {
		return err
	}
	return c.RequireHashes()
}

// stampMissing returns c with unhashed resources stamped on a copy of its
// resource slice.
func (rc *Reconciler) stampMissing(c resource.Collection) resource.Collection {
	if rc.stamper == nil {
		return c
	}

	var stamped []resource.Resource
	for i := range c.Resources {
		if c.Resources[i].ConfigHash != "" {
			continue
		}
		if stamped == nil {
			stamped = make([]resource.Resource, len(c.Resources))
			copy(stamped, c.Resources)
		}
		rc.stamper.Stamp(&stamped[i])
	}
	if stamped == nil {
		return c
	}

	rc.log.Debug().Str("collection", c.Name).Msg("stamped resources without a config hash")
	c.Resources = stamped
	return c
}

// findDeletedAndModified walks the baseline and classifies each resource.
func (rc *Reconciler) findDeletedAndModified(report *resource.DeltaReport, baseIdx, curIdx *index) {
	baseIdx.ascend(func(prev resource.Resource) {
		curr, exists := curIdx.get(prev.ARN)
		switch {
		case !exists:
			report.Deleted = append(report.Deleted, prev)
		case prev.ConfigHash != curr.ConfigHash:
			report.Modified = append(report.Modified, resource.ModifiedResource{
				Baseline: prev,
				Current:  curr,
				OldHash:  prev.ConfigHash,
				NewHash:  curr.ConfigHash,
				Changes:  rc.summarize(prev, curr),
			})
		case rc.includeUnchanged:
			report.Unchanged = append(report.Unchanged, curr)
		}
	})
}

// findAdded collects current resources with no baseline counterpart.
func (rc *Reconciler) findAdded(report *resource.DeltaReport, baseIdx, curIdx *index) {
	curIdx.ascend(func(curr resource.Resource) {
		if !baseIdx.has(curr.ARN) {
			report.Added = append(report.Added, curr)
		}
	})
}

// summarize diffs the cleaned raw configs as a JSON patch.
func (rc *Reconciler) summarize(prev, curr resource.Resource) []resource.FieldChange {
	if rc.summarizer == nil {
		return nil
	}

	patch, err := jsondiff.Compare(rc.summarizer.Clean(prev.RawConfig), rc.summarizer.Clean(curr.RawConfig))
	if err != nil {
		rc.log.Warn().Err(err).Str("arn", curr.ARN).Msg("failed to compute config diff")
		return nil
	}

	changes := make([]resource.FieldChange, 0, len(patch))
	for _, op := range patch {
		changes = append(changes, resource.FieldChange{
			Op:       op.Type,
			Path:     string(op.Path),
			Previous: op.OldValue,
			Current:  op.Value,
		})
	}
	return changes
}
