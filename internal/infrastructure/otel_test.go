package infrastructure

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordingTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func TestRecordErrorMarksSpan(t *testing.T) {
	tp, recorder := recordingTracer(t)

	ctx, span := tp.Tracer(TracerName).Start(context.Background(), "pipeline.run")
	failure := fmt.Errorf("snapshot persistence failed")
	RecordError(ctx, failure)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, failure.Error(), spans[0].Status().Description)

	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestRecordErrorWithoutSpanIsNoop(t *testing.T) {
	// Must not panic on a bare context.
	RecordError(context.Background(), fmt.Errorf("no span here"))
}

func TestTraceIDFromContext(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))

	tp, _ := recordingTracer(t)
	ctx, span := tp.Tracer(TracerName).Start(context.Background(), "stage.validate")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), TraceIDFromContext(ctx))
}
