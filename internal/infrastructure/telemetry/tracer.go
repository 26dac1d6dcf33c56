package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerInterface defines the interface for distributed tracing used by
// the pipeline core. Components depend on this, not on otel directly, so
// tests can swap in a no-op tracer.
type TracerInterface interface {
	StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
	StartSpanWithAttributes(ctx context.Context, spanName string, attrs map[string]interface{}, opts ...trace.SpanStartOption) (context.Context, trace.Span)
	RecordError(span trace.Span, err error, description string)
	AddEvent(span trace.Span, name string, attrs map[string]interface{})
	SetAttributes(span trace.Span, attrs map[string]interface{})
}

// OpenTelemetryTracer implements TracerInterface using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
	name   string
}

// NewOpenTelemetryTracer creates a new OpenTelemetry tracer.
func NewOpenTelemetryTracer(name string) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{
		tracer: otel.Tracer(name),
		name:   name,
	}
}

func (t *OpenTelemetryTracer) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

func (t *OpenTelemetryTracer) StartSpanWithAttributes(ctx context.Context, spanName string, attrs map[string]interface{}, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	allOpts := append(opts, trace.WithAttributes(t.convertAttributes(attrs)...))
	return t.tracer.Start(ctx, spanName, allOpts...)
}

func (t *OpenTelemetryTracer) RecordError(span trace.Span, err error, description string) {
	if err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("error.description", description)))
	span.SetStatus(codes.Error, err.Error())
}

func (t *OpenTelemetryTracer) AddEvent(span trace.Span, name string, attrs map[string]interface{}) {
	span.AddEvent(name, trace.WithAttributes(t.convertAttributes(attrs)...))
}

func (t *OpenTelemetryTracer) SetAttributes(span trace.Span, attrs map[string]interface{}) {
	span.SetAttributes(t.convertAttributes(attrs)...)
}

func (t *OpenTelemetryTracer) convertAttributes(attrs map[string]interface{}) []attribute.KeyValue {
	var result []attribute.KeyValue
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			result = append(result, attribute.String(k, val))
		case int:
			result = append(result, attribute.Int(k, val))
		case int64:
			result = append(result, attribute.Int64(k, val))
		case float64:
			result = append(result, attribute.Float64(k, val))
		case bool:
			result = append(result, attribute.Bool(k, val))
		default:
			result = append(result, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return result
}

// StartPipelineSpan starts a span for one run of a pipeline component
// (builder, backfill, reconcile) against a given date or district.
func StartPipelineSpan(ctx context.Context, tracer TracerInterface, component, operation string, attrs map[string]interface{}) (context.Context, trace.Span) {
	spanName := fmt.Sprintf("%s.%s", component, operation)
	merged := map[string]interface{}{
		"pipeline.component": component,
		"pipeline.operation": operation,
	}
	for k, v := range attrs {
		merged[k] = v
	}
	return tracer.StartSpanWithAttributes(ctx, spanName, merged)
}

// WithSpanError records err on span and sets an error status, a no-op if
// err is nil.
func WithSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
