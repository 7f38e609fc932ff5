// Package otel holds the span helpers shared by jobs and the directory client.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on job and directory spans
const (
	AttrJob       = attribute.Key("sync.job")
	AttrRunID     = attribute.Key("sync.run_id")
	AttrDryRun    = attribute.Key("sync.dry_run")
	AttrCursor    = attribute.Key("sync.cursor")
	AttrItemCount = attribute.Key("sync.items")
	AttrAddress   = attribute.Key("directory.address")
	AttrOperation = attribute.Key("directory.operation")
	AttrErrClass  = attribute.Key("error.class")
)

// StartSpan starts a span on tracer, or returns the context's current span
// when tracer is nil.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. The status description stays generic so
// addresses and API payloads only appear in the error event.
func RecordError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, "operation failed")
}
