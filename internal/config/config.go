// Package config handles TOML configuration for snapdelta.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/snapdelta/internal/filter"
	"github.com/yairfalse/snapdelta/internal/fingerprint"
)

// Config is the root configuration structure.
type Config struct {
	Fingerprint FingerprintConfig `toml:"fingerprint"`
	Filter      FilterConfig      `toml:"filter"`
	Delta       DeltaConfig       `toml:"delta"`
	OTEL        OTELConfig        `toml:"otel"`
	Log         LogConfig         `toml:"log"`
}

// FingerprintConfig holds hashing settings.
type FingerprintConfig struct {
	// Exclusions replaces the default volatile key set when non-empty.
	Exclusions []string `toml:"exclusions"`
	// AdditionalExclusions extends whichever set is in effect.
	AdditionalExclusions []string `toml:"additional_exclusions"`
	Workers              int      `toml:"workers"`
}

// FilterConfig holds creation-date, tag and type/region criteria.
type FilterConfig struct {
	BeforeStr     string            `toml:"before"`
	AfterStr      string            `toml:"after"`
	Before        *time.Time        `toml:"-"`
	After         *time.Time        `toml:"-"`
	IncludeTags   map[string]string `toml:"include_tags"`
	ExcludeTags   map[string]string `toml:"exclude_tags"`
	ResourceTypes []string          `toml:"resource_types"`
	Regions       []string          `toml:"regions"`
	MatchMode     string            `toml:"match_mode"`
	MissingDate   string            `toml:"missing_date"`
	BatchSize     int               `toml:"batch_size"`
}

// DeltaConfig holds reconciliation settings.
type DeltaConfig struct {
	IncludeUnchanged bool `toml:"include_unchanged"`
	ChangeSummary    bool `toml:"change_summary"`
	StrictARN        bool `toml:"strict_arn"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or console
}

// dateLayouts are tried in order for filter bounds.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDates(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Fingerprint.Workers <= 0 {
		cfg.Fingerprint.Workers = 4
	}
	if cfg.Filter.BatchSize <= 0 {
		cfg.Filter.BatchSize = 500
	}
	if cfg.Filter.MissingDate == "" {
		cfg.Filter.MissingDate = filter.IncludeMissingDate.String()
	}
	if cfg.Filter.MatchMode == "" {
		cfg.Filter.MatchMode = filter.FlexibleMatch.String()
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "snapdelta"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func parseDates(cfg *Config) error {
	before, err := ParseDate(cfg.Filter.BeforeStr)
	if err != nil {
		return fmt.Errorf("parse filter.before: %w", err)
	}
	after, err := ParseDate(cfg.Filter.AfterStr)
	if err != nil {
		return fmt.Errorf("parse filter.after: %w", err)
	}
	cfg.Filter.Before = before
	cfg.Filter.After = after
	return nil
}

// ParseDate parses an RFC 3339 timestamp or a YYYY-MM-DD date. A date without
// a zone is taken as UTC midnight. The empty string yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Filter.Before != nil && c.Filter.After != nil && !c.Filter.After.Before(*c.Filter.Before) {
		return fmt.Errorf("filter: after (%s) must be earlier than before (%s)",
			c.Filter.After.Format(time.RFC3339), c.Filter.Before.Format(time.RFC3339))
	}
	if _, err := filter.ParseMissingDatePolicy(c.Filter.MissingDate); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	if _, err := filter.ParseMatchMode(c.Filter.MatchMode); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	for k := range c.Filter.IncludeTags {
		if _, clash := c.Filter.ExcludeTags[k]; clash && c.Filter.IncludeTags[k] == c.Filter.ExcludeTags[k] {
			return fmt.Errorf("filter: tag %s=%s is both included and excluded", k, c.Filter.IncludeTags[k])
		}
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log: format must be json or console (got %q)", c.Log.Format)
	}
	return nil
}

// Criteria converts the filter section into engine criteria.
func (c *Config) Criteria() (filter.Criteria, error) {
	policy, err := filter.ParseMissingDatePolicy(c.Filter.MissingDate)
	if err != nil {
		return filter.Criteria{}, err
	}
	mode, err := filter.ParseMatchMode(c.Filter.MatchMode)
	if err != nil {
		return filter.Criteria{}, err
	}
	return filter.Criteria{
		Before:        c.Filter.Before,
		After:         c.Filter.After,
		IncludeTags:   c.Filter.IncludeTags,
		ExcludeTags:   c.Filter.ExcludeTags,
		ResourceTypes: c.Filter.ResourceTypes,
		Regions:       c.Filter.Regions,
		MatchMode:     mode,
		MissingDate:   policy,
	}, nil
}

// HasherOptions converts the fingerprint section into hasher options.
func (c *Config) HasherOptions() []fingerprint.Option {
	var opts []fingerprint.Option
	if len(c.Fingerprint.Exclusions) > 0 {
		opts = append(opts, fingerprint.WithExclusions(c.Fingerprint.Exclusions...))
	}
	if len(c.Fingerprint.AdditionalExclusions) > 0 {
		opts = append(opts, fingerprint.WithAdditionalExclusions(c.Fingerprint.AdditionalExclusions...))
	}
	return opts
}
