package telemetry

import (
	"context"

	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for spans started by this service
const TracerName = "jandalisys"

// Attribute keys for notification spans
const (
	UserIDKey           = attribute.Key("jandalisys.user_id")
	NotificationIDKey   = attribute.Key("jandalisys.notification_id")
	NotificationTypeKey = attribute.Key("jandalisys.notification_type")
	AffectedKey         = attribute.Key("jandalisys.affected")
)

// StartSpan starts a new internal span with the given name
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer(TracerName).Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// NotificationAttributes describes a notification on a span
func NotificationAttributes(n *proto.Notification) []attribute.KeyValue {
	if n == nil {
		return nil
	}
	return []attribute.KeyValue{
		NotificationIDKey.String(n.Id),
		UserIDKey.String(n.UserId),
		NotificationTypeKey.String(string(n.Type)),
	}
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// MarkSpanError marks the current span as having an error
func MarkSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}

// EndSpan records err, if any, and ends the span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()
}
