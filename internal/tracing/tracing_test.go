package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		tp.Shutdown(context.Background())
	})
	return sr
}

func TestStartEvent(t *testing.T) {
	sr := withRecorder(t)

	ctx, span := StartEvent(context.Background(), "primary.connect", "conn-1")
	Annotate(ctx, AttrPairID.String("pair-1"))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	s := ended[0]
	if s.Name() != "primary.connect" || s.SpanKind() != trace.SpanKindServer {
		t.Errorf("name=%s kind=%v", s.Name(), s.SpanKind())
	}
	want := map[string]string{
		"cliprelay.event":   "primary.connect",
		"cliprelay.conn_id": "conn-1",
		"cliprelay.pair_id": "pair-1",
	}
	got := map[string]string{}
	for _, kv := range s.Attributes() {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestReject(t *testing.T) {
	sr := withRecorder(t)

	ctx, span := StartEvent(context.Background(), "secondary.connect.qr", "conn-2")
	Reject(ctx, "error.qr.token_not_found")
	span.End()

	s := sr.Ended()[0]
	if s.Status().Code != codes.Error || s.Status().Description != "error.qr.token_not_found" {
		t.Errorf("status = %+v", s.Status())
	}
}

func TestNoProviderIsNoop(t *testing.T) {
	// Must not panic without an installed SDK provider.
	ctx, span := StartEvent(context.Background(), "data.send", "c")
	Annotate(ctx, AttrDeviceID.String("d"))
	Reject(ctx, "error.invalid_request")
	span.End()
}
