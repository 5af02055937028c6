package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/gazeta-aberta/gazeta/internal/observability"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var line map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	return line
}

func TestTracingHandler_ServiceMetadata(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "gazeta", "staging", observability.ModeServe))

	logger.Info("crawl dispatched", "job_id", "abc")

	line := logLine(t, &buf)

	assert.Equal(t, "gazeta", line["service"])
	assert.Equal(t, "staging", line["env"])
	assert.Equal(t, "serve", line["mode"])
	assert.Equal(t, "abc", line["job_id"])
}

func TestTracingHandler_EmptyEnvOmitted(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "gazeta", "", observability.ModeCLI))

	logger.Info("hello")

	line := logLine(t, &buf)

	_, hasEnv := line["env"]
	assert.False(t, hasEnv)
}

func TestTracingHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "gazeta", "", observability.ModeServe))

	tp := sdktrace.NewTracerProvider()

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "ocr.process")
	defer span.End()

	logger.InfoContext(ctx, "document archived")

	line := logLine(t, &buf)

	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
}

func TestTracingHandler_NoSpanNoTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "gazeta", "", observability.ModeServe))

	logger.InfoContext(context.Background(), "no active span")

	line := logLine(t, &buf)

	_, hasTrace := line["trace_id"]
	assert.False(t, hasTrace)
}

func TestTracingHandler_WithGroupKeepsServiceTopLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "gazeta", "prod", observability.ModeServe))

	logger.WithGroup("delivery").Info("sent", "status", "sent")

	line := logLine(t, &buf)

	assert.Equal(t, "gazeta", line["service"])

	group, ok := line["delivery"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sent", group["status"])
}
