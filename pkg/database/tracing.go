package database

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/authservice/pkg/database"

type operationKey struct{}

type queryStateKey struct{}

type queryState struct {
	start     time.Time
	operation string
	sql       string
	span      trace.Span
}

// WithOperation names the next queries run with ctx. The name becomes the
// span name ("db.<operation>") and appears in slow query logs.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey{}, operation)
}

// operationName returns the name set by WithOperation, or the SQL verb.
func operationName(ctx context.Context, sql string) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	if fields := strings.Fields(sql); len(fields) > 0 {
		return strings.ToUpper(fields[0])
	}
	return "query"
}

// QueryTracer is a pgx.QueryTracer that opens a client span per query and
// warns about queries slower than its threshold.
type QueryTracer struct {
	slowThreshold time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

// NewQueryTracer creates a tracer. A zero slowThreshold disables slow query logging.
func NewQueryTracer(slowThreshold time.Duration, logger *slog.Logger) *QueryTracer {
	return &QueryTracer{
		slowThreshold: slowThreshold,
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
	}
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := operationName(ctx, data.SQL)
	ctx, span := t.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", data.SQL),
		),
	)
	return context.WithValue(ctx, queryStateKey{}, &queryState{
		start:     time.Now(),
		operation: op,
		sql:       data.SQL,
		span:      span,
	})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	st, ok := ctx.Value(queryStateKey{}).(*queryState)
	if !ok {
		return
	}

	if data.Err != nil {
		st.span.RecordError(data.Err)
		st.span.SetStatus(codes.Error, data.Err.Error())
	} else {
		st.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	st.span.End()

	if t.slowThreshold <= 0 || t.logger == nil {
		return
	}
	if elapsed := time.Since(st.start); elapsed >= t.slowThreshold {
		attrs := []any{
			slog.String("operation", st.operation),
			slog.String("statement", st.sql),
			slog.Duration("duration", elapsed),
		}
		if data.Err != nil {
			attrs = append(attrs, slog.String("error", data.Err.Error()))
		}
		t.logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}
