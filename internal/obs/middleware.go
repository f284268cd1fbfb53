package obs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TaskObs instruments asynq handlers with a span, metrics and a structured log line.
type TaskObs struct {
	Metrics *TaskMetrics
	Logger  *zerolog.Logger
}

// Middleware implements asynq.MiddlewareFunc.
func (o TaskObs) Middleware(next asynq.Handler) asynq.Handler {
	tracer := otel.Tracer("asynq.worker")
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		taskID, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		ctx, span := tracer.Start(ctx, "task "+t.Type(), trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("messaging.system", "asynq"),
			attribute.String("messaging.operation", "process"),
			attribute.String("asynq.task_type", t.Type()),
			attribute.String("asynq.task_id", taskID),
			attribute.Int("asynq.retry_count", retried),
		)
		if o.Metrics != nil {
			o.Metrics.InFlight.WithLabelValues(t.Type()).Inc()
		}
		start := time.Now()
		err := next.ProcessTask(ctx, t)
		duration := time.Since(start)

		if o.Metrics != nil {
			o.Metrics.InFlight.WithLabelValues(t.Type()).Dec()
			o.Metrics.Processed.WithLabelValues(t.Type(), resultLabel(err)).Inc()
			o.Metrics.Duration.WithLabelValues(t.Type()).Observe(DurationMillis(duration))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "task failed")
		}
		spanCtx := span.SpanContext()
		span.End()

		logger := LoggerOrNop(o.Logger)
		evt := logger.Info()
		if err != nil {
			evt = logger.Warn().Err(err)
		}
		evt.Str("task_type", t.Type()).
			Str("task_id", taskID).
			Int("retry", retried).
			Int64("duration_ms", duration.Milliseconds()).
			Str("trace_id", spanCtx.TraceID().String()).
			Str("span_id", spanCtx.SpanID().String()).
			Msg("task_processed")
		return err
	})
}
