// Package telemetry provides OpenTelemetry instrumentation for benchctx.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yairfalse/benchctx/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *promclient.Registry
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	created         metric.Int64Counter
	conflicts       metric.Int64Counter
	deleted         metric.Int64Counter
	cleanupFailures metric.Int64Counter
	setupDuration   metric.Float64Histogram
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
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

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
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

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	p.tracer = p.tracerProvider.Tracer("benchctx")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Prometheus {
		p.registry = promclient.NewRegistry()
		exp, err := prometheus.New(prometheus.WithRegisterer(p.registry))
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("benchctx")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.created, err = p.meter.Int64Counter(
		"benchctx_resources_created_total",
		metric.WithDescription("Resources created during setup"),
	)
	if err != nil {
		return fmt.Errorf("create resources_created: %w", err)
	}

	p.conflicts, err = p.meter.Int64Counter(
		"benchctx_resource_conflicts_total",
		metric.WithDescription("Creations skipped because the name was taken"),
	)
	if err != nil {
		return fmt.Errorf("create resource_conflicts: %w", err)
	}

	p.deleted, err = p.meter.Int64Counter(
		"benchctx_resources_deleted_total",
		metric.WithDescription("Resources deleted during cleanup"),
	)
	if err != nil {
		return fmt.Errorf("create resources_deleted: %w", err)
	}

	p.cleanupFailures, err = p.meter.Int64Counter(
		"benchctx_cleanup_failures_total",
		metric.WithDescription("Cleanup errors, per resource type"),
	)
	if err != nil {
		return fmt.Errorf("create cleanup_failures: %w", err)
	}

	p.setupDuration, err = p.meter.Float64Histogram(
		"benchctx_setup_duration_seconds",
		metric.WithDescription("Duration of context setup"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create setup_duration: %w", err)
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

// Handler serves the Prometheus registry. It is nil unless
// otel.metrics.prometheus is set.
func (p *Provider) Handler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordCreated counts a created resource.
func (p *Provider) RecordCreated(ctx context.Context, resourceType string) {
	p.created.Add(ctx, 1, metric.WithAttributes(attribute.String("resource_type", resourceType)))
}

// RecordConflict counts a creation skipped on conflict.
func (p *Provider) RecordConflict(ctx context.Context, resourceType string) {
	p.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("resource_type", resourceType)))
}

// RecordDeleted counts a deleted resource.
func (p *Provider) RecordDeleted(ctx context.Context, resourceType string) {
	p.deleted.Add(ctx, 1, metric.WithAttributes(attribute.String("resource_type", resourceType)))
}

// RecordCleanupFailure counts a cleanup error.
func (p *Provider) RecordCleanupFailure(ctx context.Context, resourceType string) {
	p.cleanupFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("resource_type", resourceType)))
}

// RecordSetupDuration records how long a context took to set up.
func (p *Provider) RecordSetupDuration(ctx context.Context, contextName string, d time.Duration) {
	p.setupDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("context", contextName)))
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
