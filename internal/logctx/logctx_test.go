package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
}

func TestHasLogger(t *testing.T) {
	assert.False(t, HasLogger(context.Background()))
	assert.True(t, HasLogger(WithLogger(context.Background(), slog.Default())))
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx, logger := With(ctx, "file", "a.txt")

	logger.Info("fetching")
	assert.Same(t, logger, LoggerFromContext(ctx))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "a.txt", entry["file"])
}

func TestTraceHandlerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(context.Background(), "no span", "key", "value")

	entry := decodeLine(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.Equal(t, "value", entry["key"])
}

func TestTraceHandlerInjectsSpanIDs(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "with span")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestTraceHandlerKeepsWrappingOnDerivation(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	assert.IsType(t, &TraceHandler{}, h.WithAttrs([]slog.Attr{slog.String("component", "cache")}))
	assert.IsType(t, &TraceHandler{}, h.WithGroup("transfer"))
}

func TestNewTraceHandlerPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "aletheia.log")

	logger, err := New(Options{Level: slog.LevelInfo, File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("hello")

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestNewFallsBackToStdout(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	logger, err := New(Options{File: filepath.Join(blocker, "sub", "aletheia.log")})
	require.Error(t, err)
	assert.NotNil(t, logger)
}
