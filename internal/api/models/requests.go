package models

import (
	"github.com/krasl809/JANDALISYS-sub003/internal/api/errors"
	"github.com/krasl809/JANDALISYS-sub003/internal/api/validation"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
)

const (
	maxTitleLength   = 200
	maxMessageLength = 4000
	maxRelatedLength = 128
)

// LoginRequest is the request to authenticate a user
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate validates the request
func (r *LoginRequest) Validate() error {
	if err := validation.Required("username", r.Username); err != nil {
		return err
	}
	return validation.Required("password", r.Password)
}

// CreateNotificationRequest is the request to create a notification
type CreateNotificationRequest struct {
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Type        string `json:"type,omitempty"`
	RelatedType string `json:"related_type,omitempty"`
	RelatedID   string `json:"related_id,omitempty"`
}

// Validate validates the request
func (r *CreateNotificationRequest) Validate() error {
	if err := validation.Required("user_id", r.UserID); err != nil {
		return err
	}
	if err := validation.Required("title", r.Title); err != nil {
		return err
	}
	if err := validation.MaxLength("title", r.Title, maxTitleLength); err != nil {
		return err
	}
	if err := validation.MaxLength("message", r.Message, maxMessageLength); err != nil {
		return err
	}
	if err := validation.MaxLength("related_type", r.RelatedType, maxRelatedLength); err != nil {
		return err
	}
	if err := validation.MaxLength("related_id", r.RelatedID, maxRelatedLength); err != nil {
		return err
	}

	switch proto.NotificationType(r.Type) {
	case "", proto.NotificationType_INFO, proto.NotificationType_SUCCESS,
		proto.NotificationType_WARNING, proto.NotificationType_ERROR,
		proto.NotificationType_CONTRACT, proto.NotificationType_SYSTEM:
	default:
		return errors.ValidationError("invalid_type", "Type must be one of info, success, warning, error, contract, system")
	}

	return nil
}

// ToProto converts the request to the proto message
func (r *CreateNotificationRequest) ToProto() *proto.CreateNotificationRequest {
	return &proto.CreateNotificationRequest{
		UserId:      r.UserID,
		Title:       r.Title,
		Message:     r.Message,
		Type:        proto.NotificationType(r.Type),
		RelatedType: r.RelatedType,
		RelatedId:   r.RelatedID,
	}
}

// UpdateNotificationRequest is the request to update a notification.
// Only marking as read is supported.
type UpdateNotificationRequest struct {
	IsRead *bool `json:"is_read"`
}

// Validate validates the request
func (r *UpdateNotificationRequest) Validate() error {
	if r.IsRead == nil {
		return errors.ValidationError("required_field_missing", "is_read is required")
	}
	if !*r.IsRead {
		return errors.ValidationError("unsupported_update", "Notifications cannot be marked unread")
	}
	return nil
}
