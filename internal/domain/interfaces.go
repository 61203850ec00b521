package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
)

var (
	// ErrNotFound is returned when a notification does not exist or belongs
	// to another user
	ErrNotFound = errors.New("notification not found")

	// ErrInvalidNotification is returned for create requests missing a
	// recipient or a title
	ErrInvalidNotification = errors.New("invalid notification")
)

// NotificationStore defines the interface for notification storage implementations
type NotificationStore interface {
	// Start begins the storage engine operation and blocks until ctx is done
	Start(ctx context.Context) error

	// Shutdown stops the storage engine
	Shutdown(ctx context.Context) error

	// EventStream returns a channel of newly created notifications
	EventStream() <-chan *proto.Notification

	// Notification operations
	CreateNotification(ctx context.Context, req *proto.CreateNotificationRequest) (*proto.Notification, error)
	GetNotification(ctx context.Context, userID, id string) (*proto.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]*proto.Notification, error)
	MarkRead(ctx context.Context, userID, id string) (*proto.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
	DeleteNotification(ctx context.Context, userID, id string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Component is a long-running part of the server
type Component interface {
	// Start runs the component until ctx is cancelled
	Start(ctx context.Context) error

	// Shutdown releases the component's resources
	Shutdown(ctx context.Context) error
}

// ValidateCreate checks a create request before it reaches storage
func ValidateCreate(req *proto.CreateNotificationRequest) error {
	switch {
	case req == nil:
		return ErrInvalidNotification
	case req.UserId == "":
		return errors.Join(ErrInvalidNotification, errors.New("user_id is required"))
	case req.Title == "":
		return errors.Join(ErrInvalidNotification, errors.New("title is required"))
	}
	return nil
}

// NewNotification builds the stored record for a create request. The type
// defaults to info.
func NewNotification(req *proto.CreateNotificationRequest, now time.Time) *proto.Notification {
	kind := req.Type
	if kind == "" {
		kind = proto.NotificationType_INFO
	}
	return &proto.Notification{
		Id:          uuid.NewString(),
		UserId:      req.UserId,
		Title:       req.Title,
		Message:     req.Message,
		Type:        kind,
		CreatedAt:   now,
		RelatedType: req.RelatedType,
		RelatedId:   req.RelatedId,
	}
}
