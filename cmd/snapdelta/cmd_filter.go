package main

import (
	"io"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/snapdelta/internal/codec"
	"github.com/yairfalse/snapdelta/internal/config"
	"github.com/yairfalse/snapdelta/internal/filter"
)

type filterFlags struct {
	before      string
	after       string
	includeTags map[string]string
	excludeTags map[string]string
	missingDate string
}

func newFilterCmd(a *app) *cobra.Command {
	var ff filterFlags

	cmd := &cobra.Command{
		Use:   "filter <collection>",
		Short: "Narrow a collection by creation date and tags",
		Long: `Narrow a collection by creation date and tags.

Stages run in order: date bounds, exclude tags (any pair rejects),
include tags (every pair required). Flags override the config file.`,
		Example: `  snapdelta filter current.yaml --after 2025-01-01 --include-tag env=prod
  snapdelta filter current.yaml --exclude-tag status=archived -o filtered.yaml.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFilter(cmd, args[0], ff)
		},
	}

	cmd.Flags().StringVar(&ff.before, "before", "", "Keep resources created strictly before this date")
	cmd.Flags().StringVar(&ff.after, "after", "", "Keep resources created on or after this date")
	cmd.Flags().StringToStringVar(&ff.includeTags, "include-tag", nil, "Required tag pairs (key=value)")
	cmd.Flags().StringToStringVar(&ff.excludeTags, "exclude-tag", nil, "Rejecting tag pairs (key=value)")
	cmd.Flags().StringVar(&ff.missingDate, "missing-date", "", "Undated resources under date bounds: include or exclude")
	return cmd
}

// criteria merges flag values over the configured criteria.
func (ff filterFlags) criteria(cfg *config.Config) (filter.Criteria, error) {
	c, err := cfg.Criteria()
	if err != nil {
		return c, err
	}
	if ff.before != "" {
		if c.Before, err = config.ParseDate(ff.before); err != nil {
			return c, err
		}
	}
	if ff.after != "" {
		if c.After, err = config.ParseDate(ff.after); err != nil {
			return c, err
		}
	}
	if len(ff.includeTags) > 0 {
		c.IncludeTags = ff.includeTags
	}
	if len(ff.excludeTags) > 0 {
		c.ExcludeTags = ff.excludeTags
	}
	if ff.missingDate != "" {
		if c.MissingDate, err = filter.ParseMissingDatePolicy(ff.missingDate); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (a *app) runFilter(cmd *cobra.Command, path string, ff filterFlags) error {
	ctx, span := a.telemetry.StartSpan(cmd.Context(), "snapdelta.filter", attribute.String("path", path))
	defer span.End()

	criteria, err := ff.criteria(a.cfg)
	if err != nil {
		return err
	}

	c, err := a.readCollection(path)
	if err != nil {
		a.log.LogSpanEnd(ctx, "snapdelta.filter", err)
		return err
	}

	f := filter.New(criteria, a.log.Logger)
	filtered, stats, err := f.ApplyParallel(ctx, c.Resources, a.cfg.Filter.BatchSize)
	if err != nil {
		a.log.LogSpanEnd(ctx, "snapdelta.filter", err)
		return err
	}
	a.telemetry.RecordFilter(ctx, stats)

	a.log.WithContext(ctx).Info().
		Str("collection", c.Name).
		Str("criteria", criteria.Summary()).
		Int("total", stats.Total).
		Int("final", stats.Final).
		Int("rejected_by_date", stats.RejectedByDate).
		Int("rejected_by_exclude_tags", stats.RejectedByExcludeTags).
		Int("rejected_by_include_tags", stats.RejectedByIncludeTags).
		Int("missing_creation_date", stats.MissingCreationDate).
		Msg("collection filtered")

	c.Resources = filtered
	return a.writeOutput(cmd.OutOrStdout(), func(w io.Writer, f codec.Format) error {
		return codec.Encode(w, c, f)
	})
}
