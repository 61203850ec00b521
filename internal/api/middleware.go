package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/krasl809/JANDALISYS-sub003/internal/api/errors"
	"github.com/krasl809/JANDALISYS-sub003/internal/api/response"
	"github.com/krasl809/JANDALISYS-sub003/internal/auth"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/internal/metrics"
	"github.com/krasl809/JANDALISYS-sub003/internal/telemetry"
	"github.com/rs/zerolog/log"
)

type identityKey struct{}

// IdentityFromContext returns the caller authenticated by authMiddleware
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// authMiddleware rejects requests without a valid bearer token
func authMiddleware(verifier auth.Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				response.Error(w, r, errors.UnauthorizedError("missing_token", "Authorization bearer token is required"))
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				logger := logging.FromContext(r.Context())
				logger.Debug().Err(err).Msg("Rejected bearer token")
				response.Error(w, r, errors.UnauthorizedError("invalid_token", "Token is invalid or expired"))
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, identity)
			ctx = logging.WithContext(ctx, log.Ctx(ctx).With().Str("user_id", identity.UserID).Logger())
			telemetry.AddSpanAttributes(ctx, telemetry.UserIDKey.String(identity.UserID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// metricsMiddleware records request counts, durations and error statuses
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := metrics.GetMetrics()
		m.APIActiveConnections.Inc()
		defer m.APIActiveConnections.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil && routeCtx.RoutePattern() != "" {
			path = routeCtx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.APIRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.APIRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		if status >= 400 {
			m.APIErrorsTotal.WithLabelValues(r.Method, path, errorClass(status)).Inc()
		}
	})
}

func errorClass(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusNotFound:
		return "not_found"
	case status >= 500:
		return "server"
	default:
		return "client"
	}
}
