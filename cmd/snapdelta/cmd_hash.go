package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/snapdelta/internal/codec"
	"github.com/yairfalse/snapdelta/internal/fingerprint"
)

func newHashCmd(a *app) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "hash <collection>",
		Short: "Recompute config hashes from raw configurations",
		Long: `Recompute every resource's config_hash from its raw_config.

Volatile keys (timestamps, state, request identifiers) are stripped at any
depth before hashing, so only meaningful configuration changes alter the hash.`,
		Example: `  snapdelta hash baseline.yaml -o baseline.hashed.yaml
  snapdelta hash - --format json < snapshot.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHash(cmd, args[0], workers)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent hashing workers (default from config)")
	return cmd
}

func (a *app) runHash(cmd *cobra.Command, path string, workers int) error {
	ctx, span := a.telemetry.StartSpan(cmd.Context(), "snapdelta.hash", attribute.String("path", path))
	defer span.End()

	c, err := a.readCollection(path)
	if err != nil {
		a.log.LogSpanEnd(ctx, "snapdelta.hash", err)
		return err
	}

	if workers <= 0 {
		workers = a.cfg.Fingerprint.Workers
	}
	hasher := fingerprint.New(a.cfg.HasherOptions()...)

	start := time.Now()
	if err := hasher.StampAll(ctx, c.Resources, workers); err != nil {
		a.log.LogSpanEnd(ctx, "snapdelta.hash", err)
		return err
	}
	a.telemetry.RecordFingerprints(ctx, len(c.Resources))

	a.log.WithContext(ctx).Info().
		Str("collection", c.Name).
		Int("resources", len(c.Resources)).
		Int("workers", workers).
		Dur("duration", time.Since(start)).
		Msg("config hashes computed")

	return a.writeOutput(cmd.OutOrStdout(), func(w io.Writer, f codec.Format) error {
		return codec.Encode(w, c, f)
	})
}
