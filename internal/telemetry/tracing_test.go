package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nextlevelbuilder/seance/internal/config"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TelemetryConfig{}, "test")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
}

func TestStartSpanCarriesCorrelation(t *testing.T) {
	sr := installRecorder(t)

	ctx := WithCorrelation(context.Background(), "trace-1")
	_, span := StartSpan(ctx, "seance.message")
	SetSpanSuccess(span)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	s := ended[0]
	if s.Name() != "seance.message" {
		t.Fatalf("name = %q", s.Name())
	}
	found := false
	for _, kv := range s.Attributes() {
		if kv.Key == "correlation_id" && kv.Value.AsString() == "trace-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("correlation_id missing: %v", s.Attributes())
	}
	if s.Status().Code != codes.Ok {
		t.Fatalf("status = %v, want Ok", s.Status().Code)
	}
}

func TestRecordError(t *testing.T) {
	sr := installRecorder(t)

	_, span := StartSpan(context.Background(), "seance.send")
	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
	span.End()

	s := sr.Ended()[0]
	if s.Status().Code != codes.Error || s.Status().Description != "boom" {
		t.Fatalf("status = %+v", s.Status())
	}
	if len(s.Events()) != 1 {
		t.Fatalf("events = %d, want 1 recorded error", len(s.Events()))
	}
}
