// Package observability sets up OpenTelemetry tracing for the dispatch
// pipeline.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/kart-io/trackhub"

// Span names.
const (
	SpanInvoke            = "trackhub.invoke"
	SpanIntegrationInvoke = "trackhub.integration.invoke"
	SpanInitialize        = "trackhub.initialize"
)

// Config configures the telemetry provider.
type Config struct {
	ServiceName    string            `yaml:"service_name" env:"SERVICE_NAME"`
	ServiceVersion string            `yaml:"service_version" env:"SERVICE_VERSION"`
	Environment    string            `yaml:"environment" env:"ENVIRONMENT"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPHeaders    map[string]string `yaml:"otlp_headers" env:"OTLP_HEADERS"`
	Insecure       bool              `yaml:"insecure" env:"INSECURE"`
	SampleRate     float64           `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Enabled        bool              `yaml:"enabled" env:"ENABLED"`
}

// DefaultConfig returns a disabled configuration pointing at a local
// collector.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "trackhub",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4318",
		SampleRate:     1.0,
	}
}

// Provider hands out the tracer and meter used by the pipeline.
type Provider struct {
	config        Config
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider
}

// NewProvider creates a provider. When cfg.Enabled is false the global
// (by default no-op) tracer and meter are used and nothing is exported.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{config: cfg}

	if !cfg.Enabled {
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
		return p, nil
	}

	if err := p.initTracing(ctx); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(cfg.ServiceVersion),
		metric.WithSchemaURL(semconv.SchemaURL),
	)
	return p, nil
}

// NewProviderFromTracer wraps an existing tracer provider, e.g. one built
// on an in-memory span recorder.
func NewProviderFromTracer(tp trace.TracerProvider) *Provider {
	return &Provider{
		tracer: tp.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
}

func (p *Provider) initTracing(ctx context.Context) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(p.config.ServiceName),
			semconv.ServiceVersion(p.config.ServiceVersion),
			semconv.DeploymentEnvironment(p.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	clientOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(p.config.OTLPEndpoint),
	}
	if len(p.config.OTLPHeaders) > 0 {
		clientOpts = append(clientOpts, otlptracehttp.WithHeaders(p.config.OTLPHeaders))
	}
	if p.config.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(clientOpts...))
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}

	p.traceProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.SampleRate))),
	)

	otel.SetTracerProvider(p.traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	p.tracer = p.traceProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(p.config.ServiceVersion),
		trace.WithSchemaURL(semconv.SchemaURL),
	)
	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil || p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// TraceOperation starts an internal span.
func (p *Provider) TraceOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// TraceInvoke starts the span covering one dispatch.
func (p *Provider) TraceInvoke(ctx context.Context, method, messageID string) (context.Context, trace.Span) {
	return p.TraceOperation(ctx, SpanInvoke,
		attribute.String("trackhub.method", method),
		attribute.String("trackhub.message.id", messageID),
	)
}

// TraceIntegrationInvoke starts the span covering one integration's share
// of a dispatch.
func (p *Provider) TraceIntegrationInvoke(ctx context.Context, method, integration, messageID string) (context.Context, trace.Span) {
	return p.TraceOperation(ctx, SpanIntegrationInvoke,
		attribute.String("trackhub.method", method),
		attribute.String("trackhub.integration", integration),
		attribute.String("trackhub.message.id", messageID),
	)
}

// End finishes span, recording err when non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes and stops the exporter, if one was started.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.traceProvider == nil {
		return nil
	}
	return p.traceProvider.Shutdown(ctx)
}
