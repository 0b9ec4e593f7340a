package database

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/AdityaBheke/BusyBuy/pkg/database"

type slowLog struct {
	threshold time.Duration
	logger    *slog.Logger
}

var slow atomic.Pointer[slowLog]

// SetSlowQueryLogging warns about every documents-table statement that runs
// for at least threshold. Zero or a nil logger turns it off.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	if threshold <= 0 || logger == nil {
		slow.Store(nil)
		return
	}
	slow.Store(&slowLog{threshold: threshold, logger: logger})
}

func (l *slowLog) observe(ctx context.Context, operation, statement string, took time.Duration, err error) {
	if took < l.threshold {
		return
	}
	attrs := []any{
		slog.String("operation", operation),
		slog.String("statement", statement),
		slog.Duration("duration", took),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.WarnContext(ctx, "slow query detected", attrs...)
}

// TraceQuery wraps one statement against the documents table in a client
// span named "db."+operation. The returned func ends it with the
// statement's error.
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.sql.table", "documents"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if l := slow.Load(); l != nil {
			l.observe(ctx, operation, statement, time.Since(start), err)
		}
	}
}
