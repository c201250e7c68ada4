// Package filter decides which resources enter a baseline or a report view.
package filter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/snapdelta/pkg/resource"
)

// Stage identifies the filter stage that rejected a resource.
type Stage int

const (
	// StagePassed means the resource passed every stage.
	StagePassed Stage = iota
	// StageDate means the creation-date bounds rejected the resource.
	StageDate
	// StageExcludeTags means the resource carried a forbidden tag.
	StageExcludeTags
	// StageIncludeTags means the resource lacked a required tag.
	StageIncludeTags
)

func (s Stage) String() string {
	switch s {
	case StagePassed:
		return "passed"
	case StageDate:
		return "date"
	case StageExcludeTags:
		return "exclude_tags"
	case StageIncludeTags:
		return "include_tags"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Stats counts how resources moved through the stages.
// Counters merge by addition, so per-batch stats can be combined in any order.
type Stats struct {
	Total                 int `json:"total_collected"`
	DateMatched           int `json:"date_matched"`
	TagMatched            int `json:"tag_matched"`
	Final                 int `json:"final_count"`
	RejectedByDate        int `json:"filtered_out_by_date"`
	RejectedByIncludeTags int `json:"filtered_out_by_tags"`
	RejectedByExcludeTags int `json:"filtered_out_by_exclude_tags"`
	MissingCreationDate   int `json:"missing_creation_date"`
}

// Merge returns the sum of two stats.
func (s Stats) Merge(o Stats) Stats {
	return Stats{
		Total:                 s.Total + o.Total,
		DateMatched:           s.DateMatched + o.DateMatched,
		TagMatched:            s.TagMatched + o.TagMatched,
		Final:                 s.Final + o.Final,
		RejectedByDate:        s.RejectedByDate + o.RejectedByDate,
		RejectedByIncludeTags: s.RejectedByIncludeTags + o.RejectedByIncludeTags,
		RejectedByExcludeTags: s.RejectedByExcludeTags + o.RejectedByExcludeTags,
		MissingCreationDate:   s.MissingCreationDate + o.MissingCreationDate,
	}
}

// Filter applies capture-time criteria: creation date, then exclude tags, then include tags.
type Filter struct {
	criteria Criteria
	log      zerolog.Logger
}

// New creates a new Filter from the provided criteria.
func New(criteria Criteria, log zerolog.Logger) *Filter {
	return &Filter{
		criteria: criteria,
		log:      log.With().Str("component", "filter").Logger(),
	}
}

// Criteria returns the criteria this filter was built with.
func (f *Filter) Criteria() Criteria {
	return f.criteria
}

// Check runs the stages against one resource, stopping at the first failure.
// missingDate is true when a date bound was set and the resource had no creation time.
func (f *Filter) Check(r resource.Resource) (stage Stage, missingDate bool) {
	ok, missingDate := f.matchesDate(r)
	if !ok {
		return StageDate, missingDate
	}
	if !f.matchesExcludeTags(r) {
		return StageExcludeTags, missingDate
	}
	if !f.matchesIncludeTags(r) {
		return StageIncludeTags, missingDate
	}
	return StagePassed, missingDate
}

// ShouldIncludeResource returns true if the resource passes every stage.
func (f *Filter) ShouldIncludeResource(r resource.Resource) bool {
	stage, _ := f.Check(r)
	return stage == StagePassed
}

// Apply returns the resources that pass, in input order, and the stage statistics.
func (f *Filter) Apply(resources []resource.Resource) ([]resource.Resource, Stats) {
	filtered := make([]resource.Resource, 0, len(resources))
	stats := Stats{Total: len(resources)}

	for _, r := range resources {
		stage, missing := f.Check(r)
		stats.record(stage, missing)
		if stage == StagePassed {
			filtered = append(filtered, r)
		}
	}
	stats.Final = len(filtered)

	f.log.Debug().
		Int("total", stats.Total).
		Int("final", stats.Final).
		Msg("filtering complete")

	return filtered, stats
}

// ApplyParallel filters batches concurrently and merges their stats.
// The result equals Apply on the same input.
func (f *Filter) ApplyParallel(ctx context.Context, resources []resource.Resource, batchSize int) ([]resource.Resource, Stats, error) {
	if batchSize < 1 || len(resources) <= batchSize {
		filtered, stats := f.Apply(resources)
		return filtered, stats, nil
	}

	batches := (len(resources) + batchSize - 1) / batchSize
	passed := make([][]resource.Resource, batches)
	stats := make([]Stats, batches)

	g, gctx := errgroup.WithContext(ctx)
	for b := 0; b < batches; b++ {
		start := b * batchSize
		end := min(start+batchSize, len(resources))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			passed[b], stats[b] = f.Apply(resources[start:end])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, fmt.Errorf("filter batches: %w", err)
	}

	var total Stats
	filtered := make([]resource.Resource, 0, len(resources))
	for b := range batches {
		total = total.Merge(stats[b])
		filtered = append(filtered, passed[b]...)
	}
	return filtered, total, nil
}

func (s *Stats) record(stage Stage, missingDate bool) {
	if missingDate {
		s.MissingCreationDate++
	}
	switch stage {
	case StageDate:
		s.RejectedByDate++
		return
	case StageExcludeTags:
		s.DateMatched++
		s.RejectedByExcludeTags++
	case StageIncludeTags:
		s.DateMatched++
		s.RejectedByIncludeTags++
	case StagePassed:
		s.DateMatched++
		s.TagMatched++
	}
}

// matchesDate checks the creation-date bounds. Both sides are compared in UTC.
func (f *Filter) matchesDate(r resource.Resource) (ok bool, missingDate bool) {
	if !f.criteria.HasDateBounds() {
		return true, false
	}

	if r.CreatedAt == nil {
		if f.criteria.MissingDate == ExcludeMissingDate {
			f.log.Debug().Str("arn", r.ARN).Msg("no creation date, excluded by policy")
			return false, true
		}
		f.log.Debug().Str("arn", r.ARN).Msg("no creation date, included by policy")
		return true, true
	}

	created := r.CreatedAt.UTC()

	if before := f.criteria.Before; before != nil && !created.Before(before.UTC()) {
		f.log.Debug().
			Str("arn", r.ARN).
			Time("created_at", created).
			Time("before", before.UTC()).
			Msg("created too late")
		return false, false
	}

	if after := f.criteria.After; after != nil && created.Before(after.UTC()) {
		f.log.Debug().
			Str("arn", r.ARN).
			Time("created_at", created).
			Time("after", after.UTC()).
			Msg("created too early")
		return false, false
	}

	return true, false
}

// matchesExcludeTags is false if ANY exclude pair is present.
func (f *Filter) matchesExcludeTags(r resource.Resource) bool {
	for k, v := range f.criteria.ExcludeTags {
		if val, ok := r.Tags[k]; ok && val == v {
			f.log.Debug().Str("arn", r.ARN).Str("tag", k+"="+v).Msg("has exclude tag")
			return false
		}
	}
	return true
}

// matchesIncludeTags is true only if ALL include pairs are present with exact values.
func (f *Filter) matchesIncludeTags(r resource.Resource) bool {
	for k, v := range f.criteria.IncludeTags {
		val, ok := r.Tags[k]
		if !ok || val != v {
			f.log.Debug().Str("arn", r.ARN).Str("tag", k+"="+v).Msg("missing include tag")
			return false
		}
	}
	return true
}
