package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scope names.
const (
	chainTracerName  = "chainlog"
	mirrorTracerName = "chainlog/mirror"
)

// MirrorOperation is the kind of mirror store call being traced.
type MirrorOperation string

const (
	MirrorOperationSave  MirrorOperation = "save"
	MirrorOperationList  MirrorOperation = "list"
	MirrorOperationQuery MirrorOperation = "query"
)

// Mirror backend identifiers for the db.system attribute.
const (
	SystemPostgres = "postgresql"
	SystemRedis    = "redis"
)

// StartMirrorSpan creates a client span for a call to a mirror store.
// target is the table or key written to and may be empty.
//
//	ctx, endSpan := tracing.StartMirrorSpan(ctx, tracing.SystemPostgres, tracing.MirrorOperationSave, "log_mirror")
//	defer func() { endSpan(err) }()
func StartMirrorSpan(ctx context.Context, system string, operation MirrorOperation, target string) (context.Context, func(error)) {
	spanName := string(operation)
	if target != "" {
		spanName += " " + target
	}

	ctx, span := otel.Tracer(mirrorTracerName).Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", string(operation)),
		),
	)
	if target != "" {
		span.SetAttributes(attribute.String("db.target", target))
	}

	return ctx, endFunc(span)
}

// StartSpan creates an internal span for a chain operation such as
// "chainlog.append" or "chainlog.verify".
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(chainTracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, endFunc(span)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
