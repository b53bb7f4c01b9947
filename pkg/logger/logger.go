package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	requestKey ctxKey = iota
	loggerKey
)

// requestInfo is the per-request identity carried for log lines.
type requestInfo struct {
	correlationID string
	sessionID     string
}

func infoFrom(ctx context.Context) requestInfo {
	info, _ := ctx.Value(requestKey).(requestInfo)
	return info
}

// New returns a JSON logger on stdout tagged with service.
func New(service, level string) *slog.Logger {
	return NewWithWriter(service, level, os.Stdout)
}

// NewWithWriter returns a JSON logger on w tagged with service. Debug level
// also records source positions.
func NewWithWriter(service, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	})
	return slog.New(h).With(slog.String("service", service))
}

// ParseLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithCorrelationID tags ctx with the request correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	info := infoFrom(ctx)
	info.correlationID = id
	return context.WithValue(ctx, requestKey, info)
}

func CorrelationIDFromContext(ctx context.Context) string {
	return infoFrom(ctx).correlationID
}

// WithSessionID tags ctx with the shopper's cart session.
func WithSessionID(ctx context.Context, id string) context.Context {
	info := infoFrom(ctx)
	info.sessionID = id
	return context.WithValue(ctx, requestKey, info)
}

func SessionIDFromContext(ctx context.Context) string {
	return infoFrom(ctx).sessionID
}

// NewContext stores l as the request logger.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request logger, or slog.Default outside a request.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Attrs lists the request identity found in ctx: correlation and session
// IDs plus the active trace and span.
func Attrs(ctx context.Context) []any {
	var attrs []any
	info := infoFrom(ctx)
	if info.correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", info.correlationID))
	}
	if info.sessionID != "" {
		attrs = append(attrs, slog.String("session_id", info.sessionID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return attrs
}

// WithContext returns l annotated with Attrs(ctx).
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	attrs := Attrs(ctx)
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
