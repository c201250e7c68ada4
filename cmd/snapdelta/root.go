package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snapdelta/internal/config"
	"github.com/yairfalse/snapdelta/internal/telemetry"
)

var version = "0.1.0"

// app holds what every subcommand needs once flags are parsed.
type app struct {
	cfg       *config.Config
	log       *telemetry.Logger
	telemetry *telemetry.Provider

	configPath string
	logLevel   string
	logFormat  string
	format     string
	output     string
	logOut     io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "snapdelta",
		Short: "Baseline reconciliation for cloud resource collections",
		Long: `snapdelta - baseline reconciliation for cloud resource collections

Fingerprint captured resource configurations, narrow collections by
creation date and tags, and reconcile a baseline against a current
collection into added, deleted, modified and unchanged resources.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown(cmd.Context())
		},
	}
	rootCmd.SetVersionTemplate(`snapdelta {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "TOML config file path")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (overrides config)")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: json or console (overrides config)")
	flags.StringVarP(&a.format, "format", "f", "", "Document format: yaml or json (default: inferred from path)")
	flags.StringVarP(&a.output, "output", "o", "-", "Output path, - for stdout; a .gz suffix compresses")

	rootCmd.AddCommand(newHashCmd(a), newFilterCmd(a), newDiffCmd(a))
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg

	logOut := a.logOut
	if logOut == nil {
		logOut = os.Stderr
	}
	logger, err := telemetry.NewLogger(cfg.Log, cfg.OTEL.ServiceName, logOut)
	if err != nil {
		return err
	}
	a.log = logger

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	provider, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = provider

	return nil
}

func (a *app) shutdown(ctx context.Context) error {
	if a.telemetry == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	return nil
}
