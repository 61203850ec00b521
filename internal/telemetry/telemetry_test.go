package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	otel.SetTracerProvider(provider)
	t.Cleanup(func() { provider.Shutdown(context.Background()) })
	return recorder
}

func attr(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestHTTPMiddlewareNamesSpansByRoute(t *testing.T) {
	recorder := installRecorder(t)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware("test"))
	r.Delete("/api/v1/notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/v1/notifications/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "DELETE /api/v1/notifications/{id}", spans[0].Name())
	status, ok := attr(spans[0].Attributes(), "http.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusNoContent), status.AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "GET /boom", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestStartSpanWithNotificationAttributes(t *testing.T) {
	recorder := installRecorder(t)

	n := &proto.Notification{Id: "n1", UserId: "u1", Type: proto.NotificationType_CONTRACT}
	ctx, span := StartSpan(context.Background(), "storage.create", NotificationAttributes(n)...)
	AddSpanAttributes(ctx, AffectedKey.Int(1))
	MarkSpanError(ctx, nil)
	EndSpan(span, errors.New("disk full"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "storage.create", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	id, ok := attr(spans[0].Attributes(), NotificationIDKey)
	require.True(t, ok)
	assert.Equal(t, "n1", id.AsString())
	affected, ok := attr(spans[0].Attributes(), AffectedKey)
	require.True(t, ok)
	assert.Equal(t, int64(1), affected.AsInt64())

	assert.Nil(t, NotificationAttributes(nil))
}
