package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// requestScope is what the package keeps per request. Each With* call stores
// a modified copy so parent contexts are never affected.
type requestScope struct {
	correlationID string
	subject       string
	logger        *slog.Logger
}

type scopeKey struct{}

func scopeFrom(ctx context.Context) requestScope {
	s, _ := ctx.Value(scopeKey{}).(requestScope)
	return s
}

func withScope(ctx context.Context, update func(*requestScope)) context.Context {
	s := scopeFrom(ctx)
	update(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// New returns a JSON logger on stdout tagged with the service name.
func New(serviceName, level string) *slog.Logger {
	return NewWithWriter(serviceName, level, os.Stdout)
}

// NewWithWriter is New with an explicit destination. Debug level also
// records source locations.
func NewWithWriter(serviceName, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug})
	return slog.New(h).With(slog.String("service", serviceName))
}

// ParseLevel maps a case-insensitive level name to a slog.Level. Unknown
// names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withScope(ctx, func(s *requestScope) { s.correlationID = id })
}

func CorrelationIDFromContext(ctx context.Context) string {
	return scopeFrom(ctx).correlationID
}

// WithSubject records the authenticated username for log lines.
func WithSubject(ctx context.Context, username string) context.Context {
	return withScope(ctx, func(s *requestScope) { s.subject = username })
}

func SubjectFromContext(ctx context.Context) string {
	return scopeFrom(ctx).subject
}

// NewContext stores a request-scoped logger.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return withScope(ctx, func(s *requestScope) { s.logger = l })
}

// FromContext returns the logger stored by NewContext, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l := scopeFrom(ctx).logger; l != nil {
		return l
	}
	return slog.Default()
}

// WithContext adds correlation_id, subject, trace_id and span_id to l for
// whichever of them ctx carries.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	s := scopeFrom(ctx)
	var attrs []any
	if s.correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", s.correlationID))
	}
	if s.subject != "" {
		attrs = append(attrs, slog.String("subject", s.subject))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
