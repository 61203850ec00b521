package api

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/krasl809/JANDALISYS-sub003/internal/api/errors"
	"github.com/krasl809/JANDALISYS-sub003/internal/api/models"
	"github.com/krasl809/JANDALISYS-sub003/internal/api/response"
	"github.com/krasl809/JANDALISYS-sub003/internal/api/validation"
	"github.com/krasl809/JANDALISYS-sub003/internal/auth"
	"github.com/krasl809/JANDALISYS-sub003/internal/domain"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/internal/metrics"
	"github.com/krasl809/JANDALISYS-sub003/internal/telemetry"
)

// maxListLimit bounds an explicit limit; without one the whole list is returned
const maxListLimit = 1000

// handleLogin authenticates a user against the configured directory
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := validation.ParseAndValidate(r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	login, err := a.auth.Login(req.Username, req.Password)
	if err != nil {
		metrics.GetMetrics().LoginsTotal.WithLabelValues("failure").Inc()
		if stderrors.Is(err, auth.ErrInvalidCredentials) {
			response.Error(w, r, errors.UnauthorizedError("invalid_credentials", "Incorrect username or password"))
			return
		}
		a.logger.Error().Err(err).Str("username", req.Username).Msg("Failed to issue token")
		response.Error(w, r, errors.InternalError("login_failed", "Failed to log in"))
		return
	}

	metrics.GetMetrics().LoginsTotal.WithLabelValues("success").Inc()
	logger := logging.FromContext(r.Context())
	logger.Info().Str("user_id", login.User.Id).Msg("User logged in")

	response.JSON(w, r, http.StatusOK, models.LoginFromProto(login))
}

// handleListNotifications lists the caller's notifications, newest first
func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	limit, err := validation.QueryInt(r, "limit", 0, 1, maxListLimit)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "api.list_notifications", telemetry.UserIDKey.String(identity.UserID))
	list, err := a.store.ListNotifications(ctx, identity.UserID, limit)
	telemetry.EndSpan(span, err)
	if err != nil {
		a.storeError(w, r, err, "list notifications")
		return
	}

	response.WithMeta(w, r, http.StatusOK, models.NotificationsFromProto(list), models.ListMeta{
		Limit: limit,
		Count: len(list),
	})
}

// handleUnreadCount returns the caller's unread counter
func (a *API) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	count, err := a.store.UnreadCount(r.Context(), identity.UserID)
	if err != nil {
		a.storeError(w, r, err, "count unread notifications")
		return
	}

	response.JSON(w, r, http.StatusOK, models.UnreadCountResponse{Count: count})
}

// handleGetNotification returns one of the caller's notifications
func (a *API) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	id := chi.URLParam(r, "id")

	n, err := a.store.GetNotification(r.Context(), identity.UserID, id)
	if err != nil {
		a.storeError(w, r, err, "get notification")
		return
	}

	response.JSON(w, r, http.StatusOK, models.NotificationFromProto(n))
}

// handleUpdateNotification marks one of the caller's notifications read
func (a *API) handleUpdateNotification(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req models.UpdateNotificationRequest
	if err := validation.ParseAndValidate(r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "api.mark_read",
		telemetry.UserIDKey.String(identity.UserID),
		telemetry.NotificationIDKey.String(id),
	)
	n, err := a.store.MarkRead(ctx, identity.UserID, id)
	telemetry.EndSpan(span, err)
	if err != nil {
		a.storeError(w, r, err, "mark notification read")
		return
	}

	metrics.GetMetrics().NotificationsRead.Inc()
	response.JSON(w, r, http.StatusOK, models.NotificationFromProto(n))
}

// handleMarkAllRead marks every notification of the caller read
func (a *API) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	ctx, span := telemetry.StartSpan(r.Context(), "api.mark_all_read", telemetry.UserIDKey.String(identity.UserID))
	updated, err := a.store.MarkAllRead(ctx, identity.UserID)
	if err == nil {
		span.SetAttributes(telemetry.AffectedKey.Int(updated))
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		a.storeError(w, r, err, "mark all notifications read")
		return
	}

	metrics.GetMetrics().NotificationsRead.Add(float64(updated))
	response.JSON(w, r, http.StatusOK, models.MarkAllReadResponse{Updated: updated})
}

// handleDeleteNotification deletes one of the caller's notifications
func (a *API) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	id := chi.URLParam(r, "id")

	ctx, span := telemetry.StartSpan(r.Context(), "api.delete_notification",
		telemetry.UserIDKey.String(identity.UserID),
		telemetry.NotificationIDKey.String(id),
	)
	err := a.store.DeleteNotification(ctx, identity.UserID, id)
	telemetry.EndSpan(span, err)
	if err != nil {
		a.storeError(w, r, err, "delete notification")
		return
	}

	metrics.GetMetrics().NotificationsDeleted.Inc()
	response.JSON(w, r, http.StatusOK, models.DeleteResponse{Deleted: true})
}

// handleCreateNotification stores a notification and lets the event stream
// push it to the recipient's open channels
func (a *API) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req models.CreateNotificationRequest
	if err := validation.ParseAndValidate(r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "api.create_notification", telemetry.UserIDKey.String(req.UserID))
	n, err := a.store.CreateNotification(ctx, req.ToProto())
	if err == nil {
		telemetry.AddSpanAttributes(ctx, telemetry.NotificationAttributes(n)...)
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		a.storeError(w, r, err, "create notification")
		return
	}

	metrics.GetMetrics().NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	logger := logging.FromContext(r.Context())
	logger.Debug().
		Str("id", n.Id).
		Str("recipient", n.UserId).
		Msg("Notification created")

	response.JSON(w, r, http.StatusCreated, models.NotificationFromProto(n))
}

// storeError maps storage errors onto API errors
func (a *API) storeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case stderrors.Is(err, domain.ErrNotFound):
		response.Error(w, r, errors.NotFoundError("notification_not_found", "Notification not found"))
	case stderrors.Is(err, domain.ErrInvalidNotification):
		response.Error(w, r, errors.ValidationError("invalid_notification", err.Error()))
	case stderrors.Is(err, context.Canceled):
		logger := logging.FromContext(r.Context())
		logger.Debug().Str("operation", op).Msg("Request cancelled")
	case stderrors.Is(err, context.DeadlineExceeded):
		response.Error(w, r, errors.UnavailableError("request_timeout", "Request timed out"))
	default:
		telemetry.MarkSpanError(r.Context(), err)
		a.logger.Error().Err(err).Str("operation", op).Msg("Storage operation failed")
		response.Error(w, r, errors.InternalError("storage_error", "Failed to "+op))
	}
}
