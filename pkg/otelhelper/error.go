package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks a settlement span as failed and records the rejection as a
// span event. Attrs identify the workflow, step or agent involved, using the
// agora attribute keys.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
	span.AddEvent("operation_rejected", trace.WithAttributes(
		attrs...,
	))
}
