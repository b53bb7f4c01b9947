package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func logLine(t *testing.T, ctx context.Context) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	WithContext(ctx, NewWithWriter("storefront", "info", &buf)).Info("cart updated")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
}

func TestNewWithWriter_TagsService(t *testing.T) {
	out := logLine(t, context.Background())

	assert.Equal(t, "storefront", out["service"])
	assert.Equal(t, "cart updated", out["msg"])
}

func TestWithContext_Empty(t *testing.T) {
	out := logLine(t, context.Background())

	for _, key := range []string{"correlation_id", "session_id", "trace_id", "span_id"} {
		assert.NotContains(t, out, key)
	}
}

func TestWithContext_RequestIdentity(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "req-123")
	ctx = WithSessionID(ctx, "sess-789")

	out := logLine(t, ctx)

	assert.Equal(t, "req-123", out["correlation_id"])
	assert.Equal(t, "sess-789", out["session_id"])
}

func TestWithContext_Span(t *testing.T) {
	ctx := WithSessionID(spanContext(t), "sess-1")

	out := logLine(t, ctx)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", out["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", out["span_id"])
	assert.Equal(t, "sess-1", out["session_id"])
}

func TestContextIDs_AreIndependent(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-a")
	ctx = WithCorrelationID(ctx, "req-a")
	child := WithSessionID(ctx, "sess-b")

	assert.Equal(t, "sess-a", SessionIDFromContext(ctx))
	assert.Equal(t, "sess-b", SessionIDFromContext(child))
	assert.Equal(t, "req-a", CorrelationIDFromContext(child))
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
}

func TestFromContext(t *testing.T) {
	l := NewWithWriter("storefront", "info", &bytes.Buffer{})

	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("storefront", "warn", &buf)

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
