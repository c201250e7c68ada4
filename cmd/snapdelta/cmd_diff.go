package main

import (
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/snapdelta/internal/codec"
	"github.com/yairfalse/snapdelta/internal/delta"
	"github.com/yairfalse/snapdelta/internal/filter"
	"github.com/yairfalse/snapdelta/internal/fingerprint"
	"github.com/yairfalse/snapdelta/pkg/resource"
)

// errChangesDetected is returned by diff --fail-on-change when the report is not empty.
var errChangesDetected = errors.New("changes detected")

type diffFlags struct {
	types        []string
	regions      []string
	matchMode    string
	unchanged    bool
	changes      bool
	strict       bool
	failOnChange bool
}

func newDiffCmd(a *app) *cobra.Command {
	var df diffFlags

	cmd := &cobra.Command{
		Use:   "diff <baseline> <current>",
		Short: "Reconcile a baseline against a current collection",
		Long: `Reconcile a baseline against a current collection.

Resources are matched by ARN and compared by config hash. The report lists
added, deleted and modified resources ordered by ARN. Type and region filters
narrow only the current side; baseline resources hidden by them are reported
as deleted.`,
		Example: `  snapdelta diff baseline.yaml current.yaml
  snapdelta diff baseline.yaml.gz current.json --type ec2 --changes -o report.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDiff(cmd, args[0], args[1], df)
		},
	}

	cmd.Flags().StringSliceVar(&df.types, "type", nil, "Current-side resource type filter (exact, service or substring)")
	cmd.Flags().StringSliceVar(&df.regions, "region", nil, "Current-side region filter")
	cmd.Flags().StringVar(&df.matchMode, "match-mode", "", "Type filter mode: flexible or exact (default from config)")
	cmd.Flags().BoolVar(&df.unchanged, "unchanged", false, "Include unchanged resources in the report")
	cmd.Flags().BoolVar(&df.changes, "changes", false, "Include field-level changes for modified resources")
	cmd.Flags().BoolVar(&df.strict, "strict", false, "Require every identity to be an AWS ARN")
	cmd.Flags().BoolVar(&df.failOnChange, "fail-on-change", false, "Exit non-zero when any change is found")
	return cmd
}

// loadPair decodes both collections concurrently.
func (a *app) loadPair(baselinePath, currentPath string) (resource.Collection, resource.Collection, error) {
	var baseline, current resource.Collection

	var g errgroup.Group
	g.Go(func() error {
		var err error
		baseline, err = a.readCollection(baselinePath)
		return err
	})
	g.Go(func() error {
		var err error
		current, err = a.readCollection(currentPath)
		return err
	})

	err := g.Wait()
	return baseline, current, err
}

func (a *app) reconcilerOptions(df diffFlags) ([]delta.Option, error) {
	types := df.types
	if len(types) == 0 {
		types = a.cfg.Filter.ResourceTypes
	}
	regions := df.regions
	if len(regions) == 0 {
		regions = a.cfg.Filter.Regions
	}
	modeName := df.matchMode
	if modeName == "" {
		modeName = a.cfg.Filter.MatchMode
	}
	mode, err := filter.ParseMatchMode(modeName)
	if err != nil {
		return nil, err
	}

	hasher := fingerprint.New(a.cfg.HasherOptions()...)
	opts := []delta.Option{
		delta.WithLogger(a.log.Logger),
		delta.WithCurrentFilter(filter.NewMatcher(types, regions, filter.WithMatchMode(mode))),
		delta.WithHasher(hasher),
		delta.WithUnchanged(df.unchanged || a.cfg.Delta.IncludeUnchanged),
		delta.WithStrictARN(df.strict || a.cfg.Delta.StrictARN),
	}
	if df.changes || a.cfg.Delta.ChangeSummary {
		opts = append(opts, delta.WithChangeSummary(hasher))
	}
	return opts, nil
}

func (a *app) runDiff(cmd *cobra.Command, baselinePath, currentPath string, df diffFlags) error {
	attrs := []attribute.KeyValue{
		attribute.String("baseline", baselinePath),
		attribute.String("current", currentPath),
	}
	ctx, span := a.telemetry.StartSpan(cmd.Context(), "snapdelta.diff", attrs...)
	defer span.End()
	a.log.LogSpanStart(ctx, "snapdelta.diff", attrs...)

	opts, err := a.reconcilerOptions(df)
	if err != nil {
		a.log.LogSpanEnd(ctx, "snapdelta.diff", err)
		return err
	}

	baseline, current, err := a.loadPair(baselinePath, currentPath)
	if err != nil {
		a.log.LogSpanEnd(ctx, "snapdelta.diff", err)
		return err
	}

	start := time.Now()
	report, err := delta.New(opts...).Reconcile(baseline, current)
	if err != nil {
		a.log.LogSpanEnd(ctx, "snapdelta.diff", err)
		return err
	}
	a.telemetry.RecordReconcile(ctx, report, time.Since(start))
	a.log.LogSpanEnd(ctx, "snapdelta.diff", nil)

	if err := a.writeOutput(cmd.OutOrStdout(), func(w io.Writer, f codec.Format) error {
		return codec.EncodeReport(w, report, f)
	}); err != nil {
		return err
	}

	if df.failOnChange && report.HasChanges() {
		return errChangesDetected
	}
	return nil
}
