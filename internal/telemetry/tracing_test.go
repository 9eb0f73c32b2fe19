package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// These tests mutate the global tracer provider and must not run in parallel.

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	shutdown, err := InitTracerProvider(context.Background(), Config{Enabled: true, ServiceName: "webcat-test"},
		sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, shutdown(context.Background()))
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
	})

	_, span := StartSpan(context.Background(), "visit.unit", attribute.String("url", "https://lib.example.edu"))
	EndSpan(span, errors.New("render timeout"))
	_, ok := StartSpan(context.Background(), "visit.ok")
	EndSpan(ok, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "visit.unit", spans[0].Name())
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Contains(t, spans[0].Attributes(), attribute.String("url", "https://lib.example.edu"))
	require.Equal(t, codes.Unset, spans[1].Status().Code)
}

func TestInitTracerProviderDisabled(t *testing.T) {
	shutdown, err := InitTracerProvider(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.NotNil(t, otel.GetTextMapPropagator())
}
