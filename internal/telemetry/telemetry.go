// Package telemetry provides OpenTelemetry instrumentation for snapdelta.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/snapdelta/internal/config"
	"github.com/yairfalse/snapdelta/internal/filter"
	"github.com/yairfalse/snapdelta/pkg/resource"
)

const instrumentationName = "snapdelta"

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	reconcileDuration metric.Float64Histogram
	resourceChanges   metric.Int64Counter
	filterRejections  metric.Int64Counter
	fingerprints      metric.Int64Counter
}

// ProviderOption adds readers or exporters beyond what the config enables.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	readers   []sdkmetric.Reader
	exporters []sdktrace.SpanExporter
}

// WithMetricReader attaches an additional metric reader.
func WithMetricReader(r sdkmetric.Reader) ProviderOption {
	return func(o *providerOptions) {
		o.readers = append(o.readers, r)
	}
}

// WithSpanExporter attaches a span exporter that receives spans synchronously.
func WithSpanExporter(exp sdktrace.SpanExporter) ProviderOption {
	return func(o *providerOptions) {
		o.exporters = append(o.exporters, exp)
	}
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig, opts ...ProviderOption) (*Provider, error) {
	var po providerOptions
	for _, opt := range opts {
		opt(&po)
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res, po.exporters); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, po.readers); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *sdkresource.Resource, extra []sdktrace.SpanExporter) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}
	for _, exp := range extra {
		opts = append(opts, sdktrace.WithSyncer(exp))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *sdkresource.Resource, extra []sdkmetric.Reader) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	for _, r := range extra {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(instrumentationName)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.reconcileDuration, err = p.meter.Float64Histogram(
		"snapdelta_reconcile_duration_seconds",
		metric.WithDescription("Duration of baseline reconciliations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create reconcile_duration: %w", err)
	}

	p.resourceChanges, err = p.meter.Int64Counter(
		"snapdelta_resource_changes_total",
		metric.WithDescription("Resources classified by reconciliation"),
	)
	if err != nil {
		return fmt.Errorf("create resource_changes: %w", err)
	}

	p.filterRejections, err = p.meter.Int64Counter(
		"snapdelta_filter_rejections_total",
		metric.WithDescription("Resources rejected by filter stage"),
	)
	if err != nil {
		return fmt.Errorf("create filter_rejections: %w", err)
	}

	p.fingerprints, err = p.meter.Int64Counter(
		"snapdelta_fingerprints_total",
		metric.WithDescription("Configuration fingerprints computed"),
	)
	if err != nil {
		return fmt.Errorf("create fingerprints: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordReconcile records the duration of a reconciliation and its per-class counts.
func (p *Provider) RecordReconcile(ctx context.Context, report *resource.DeltaReport, d time.Duration) {
	p.reconcileDuration.Record(ctx, d.Seconds())

	counts := map[resource.DiffType]int{
		resource.DiffAdded:     len(report.Added),
		resource.DiffDeleted:   len(report.Deleted),
		resource.DiffModified:  len(report.Modified),
		resource.DiffUnchanged: report.UnchangedCount(),
	}
	for changeType, n := range counts {
		if n == 0 {
			continue
		}
		p.resourceChanges.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("change_type", string(changeType)),
		))
	}
}

// RecordFilter records rejections per filter stage.
func (p *Provider) RecordFilter(ctx context.Context, stats filter.Stats) {
	rejections := map[filter.Stage]int{
		filter.StageDate:        stats.RejectedByDate,
		filter.StageExcludeTags: stats.RejectedByExcludeTags,
		filter.StageIncludeTags: stats.RejectedByIncludeTags,
	}
	for stage, n := range rejections {
		if n == 0 {
			continue
		}
		p.filterRejections.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("stage", stage.String()),
		))
	}
}

// RecordFingerprints records the number of configurations hashed.
func (p *Provider) RecordFingerprints(ctx context.Context, count int) {
	p.fingerprints.Add(ctx, int64(count))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
