package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"migration-service/config"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("verbose"))
}

func TestTraceHandler_AddsTraceFields(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "migration.apply")
	defer span.End()

	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{
		LogLevel:           "INFO",
		OtelEnabled:        true,
		GoogleCloudProject: "my-project",
	})
	logger.InfoContext(ctx, "running migration", "file", "100-a.sql")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	traceID := span.SpanContext().TraceID().String()
	assert.Equal(t, traceID, entry["trace"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["spanId"])
	assert.Equal(t, "projects/my-project/traces/"+traceID, entry["logging.googleapis.com/trace"])
	assert.Equal(t, "100-a.sql", entry["file"])
}

func TestTraceHandler_Disabled(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "migration.apply")
	defer span.End()

	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{LogLevel: "WARN"}).With("run_id", "r1")
	logger.InfoContext(ctx, "filtered out")
	logger.WarnContext(ctx, "kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.NotContains(t, entry, "trace")
}
