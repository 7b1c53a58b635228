package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DBOperation names a document store operation.
type DBOperation string

const (
	DBOperationQuery  DBOperation = "query"
	DBOperationUpsert DBOperation = "upsert"
	DBOperationSchema DBOperation = "schema"
)

// documentsTable is the single table behind every collection.
const documentsTable = "documents"

// Attribute keys shared by the span helpers.
const (
	AttrCollection = attribute.Key("nearby.collection")
	AttrSource     = attribute.Key("nearby.source")
	AttrOutcome    = attribute.Key("nearby.outcome")
	AttrCount      = attribute.Key("nearby.count")
)

// StartDBSpan starts a client span for an operation on one document
// collection. The returned function ends the span, recording err.
//
//	ctx, endSpan := tracing.StartDBSpan(ctx, "posts", tracing.DBOperationQuery)
//	defer func() { endSpan(err) }()
func StartDBSpan(ctx context.Context, collection string, operation DBOperation) (context.Context, func(error)) {
	name := string(operation) + " " + documentsTable
	if collection != "" {
		name += "/" + collection
	}
	ctx, span := otel.Tracer(instrumentationName+"/store").Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", string(operation)),
			attribute.String("db.sql.table", documentsTable),
		),
	)
	if collection != "" {
		span.SetAttributes(AttrCollection.String(collection))
	}
	return ctx, func(err error) { finish(span, err) }
}

// StartSourceSpan starts the span around one source fetch of a feed or
// search request. The returned function records how many records the source
// produced, or why it failed, and ends the span.
func StartSourceSpan(ctx context.Context, source string) (context.Context, func(count int, err error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "fetch "+source,
		trace.WithAttributes(AttrSource.String(source)),
	)
	return ctx, func(count int, err error) {
		switch {
		case err == nil:
			span.SetAttributes(AttrOutcome.String("ok"), AttrCount.Int(count))
		case errors.Is(err, context.DeadlineExceeded):
			span.SetAttributes(AttrOutcome.String("timeout"))
		default:
			span.SetAttributes(AttrOutcome.String("error"))
		}
		finish(span, err)
	}
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
