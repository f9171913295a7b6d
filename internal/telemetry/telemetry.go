// Package telemetry implements core.Telemetry with OpenTelemetry,
// grounded on gomind's telemetry.OTelProvider: a TracerProvider wired to
// an exporter, in a single Provider object. The server constructs it at
// startup; no component is handed it. Metrics are recorded as events on
// short-lived spans rather than through a separate OTLP metric pipeline
// (see DESIGN.md for why the metric exporter was dropped).
package telemetry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider implements core.Telemetry backed by an OpenTelemetry
// TracerProvider. RecordMetric is surfaced as an event on a dedicated
// short-lived span rather than a separate metrics pipeline, since no OTLP
// metric exporter is wired in (no pack repo exercises one without also
// pulling in otlpmetrichttp, which nothing in this module needs beyond
// telemetry itself).
type Provider struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider

	mu       sync.Mutex
	shutdown bool
}

// New creates a Provider exporting spans via stdouttrace — the same
// exporter gomind falls back to for local development, kept here as
// the only trace sink since no collector endpoint is configured for
// this service.
func New(serviceName string, w io.Writer) (*Provider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("telemetry: service name is required")
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating stdout trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &Provider{
		tracer:   tp.Tracer(serviceName),
		provider: tp,
	}, nil
}

// StartSpan starts a new span named name as a child of any span
// already in ctx.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	spanCtx, span := p.tracer.Start(ctx, name)
	return spanCtx, &otelSpan{span: span}
}

// RecordMetric always starts a detached span named "metric.<name>" from
// context.Background(), records name/value/labels on it as one event and
// ends it immediately, so the measurement is never silently dropped. It
// is never attached to a caller's span.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	_, span := p.tracer.Start(context.Background(), "metric."+name)
	defer span.End()
	attrs := make([]attribute.KeyValue, 0, len(labels)+1)
	attrs = append(attrs, attribute.Float64("value", value))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Shutdown flushes and stops the exporter. Safe to call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return nil
	}
	p.shutdown = true
	return p.provider.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

var _ core.Telemetry = (*Provider)(nil)
var _ core.Span = (*otelSpan)(nil)
