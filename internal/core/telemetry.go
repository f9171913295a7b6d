package core

import "context"

// Telemetry is the optional tracing/metrics seam, with NoOpTelemetry as
// the no-op implementation. No component in this module takes one as an
// option; internal/telemetry provides the OpenTelemetry-backed version.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is a single unit of traced work.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, NoOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

type NoOpSpan struct{}

func (NoOpSpan) End()                               {}
func (NoOpSpan) SetAttribute(string, interface{})   {}
func (NoOpSpan) RecordError(error)                  {}
