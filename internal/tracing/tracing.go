// Package tracing wraps the OpenTelemetry API for the relay: one span per
// dispatched device event. Without an installed exporter the global
// provider is a no-op and spans cost nothing.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans created by this module.
const InstrumentationName = "github.com/nextlevelbuilder/cliprelay"

// Attribute keys.
const (
	AttrEvent    = attribute.Key("cliprelay.event")
	AttrConnID   = attribute.Key("cliprelay.conn_id")
	AttrDeviceID = attribute.Key("cliprelay.device_id")
	AttrPairID   = attribute.Key("cliprelay.pair_id")
	AttrOutcome  = attribute.Key("cliprelay.outcome")
)

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartEvent opens a server span for one inbound device event.
func StartEvent(ctx context.Context, event, connID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, event,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(AttrEvent.String(event), AttrConnID.String(connID)),
	)
}

// Annotate adds attributes to the span in ctx, if any.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// Reject marks the span in ctx as refused with the given error event.
func Reject(ctx context.Context, errorEvent string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(AttrOutcome.String(errorEvent))
	span.SetStatus(codes.Error, errorEvent)
}
