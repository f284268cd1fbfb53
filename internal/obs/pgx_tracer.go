package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLen = 300

type pgxSpanKey struct{}

// PGXTracer implements pgx.QueryTracer and pgx.BatchTracer with one span per statement.
type PGXTracer struct{}

var (
	_ pgx.QueryTracer = PGXTracer{}
	_ pgx.BatchTracer = PGXTracer{}
)

// TraceQueryStart starts a span for the SQL statement.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return startStatementSpan(ctx, "pgx.query", data.SQL)
}

// TraceQueryEnd ends the span and records the command tag or error.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	endStatementSpan(ctx, data.CommandTag.RowsAffected(), data.Err)
}

// TraceBatchStart starts a span covering a whole batch.
func (PGXTracer) TraceBatchStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchStartData) context.Context {
	ctx = startStatementSpan(ctx, "pgx.batch", "")
	if span, ok := ctx.Value(pgxSpanKey{}).(trace.Span); ok && data.Batch != nil {
		span.SetAttributes(attribute.Int("db.batch_size", data.Batch.Len()))
	}
	return ctx
}

// TraceBatchQuery records a statement of the current batch as a span event.
func (PGXTracer) TraceBatchQuery(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchQueryData) {
	if span, ok := ctx.Value(pgxSpanKey{}).(trace.Span); ok {
		span.AddEvent("batch.query", trace.WithAttributes(attribute.String("db.statement", truncateSQL(data.SQL))))
		if data.Err != nil {
			span.RecordError(data.Err)
		}
	}
}

// TraceBatchEnd ends the batch span.
func (PGXTracer) TraceBatchEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchEndData) {
	endStatementSpan(ctx, -1, data.Err)
}

func startStatementSpan(ctx context.Context, name, sql string) context.Context {
	ctx, span := otel.Tracer("repo.pgx").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("db.system", "postgresql"))
	if fields := strings.Fields(sql); len(fields) > 0 {
		span.SetAttributes(
			attribute.String("db.statement", truncateSQL(sql)),
			attribute.String("db.operation", strings.ToUpper(fields[0])),
		)
	}
	return context.WithValue(ctx, pgxSpanKey{}, span)
}

func endStatementSpan(ctx context.Context, rows int64, err error) {
	span, ok := ctx.Value(pgxSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if rows >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", rows))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "statement failed")
	}
	span.End()
}

func truncateSQL(sql string) string {
	trimmed := strings.Join(strings.Fields(sql), " ")
	if len(trimmed) > maxStatementLen {
		return trimmed[:maxStatementLen] + "..."
	}
	return trimmed
}
