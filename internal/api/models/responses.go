package models

import (
	"time"

	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
)

// NotificationResponse is the response for a notification
type NotificationResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Type        string `json:"type"`
	IsRead      bool   `json:"is_read"`
	CreatedAt   string `json:"created_at"`
	RelatedType string `json:"related_type,omitempty"`
	RelatedID   string `json:"related_id,omitempty"`
}

// NotificationFromProto converts a proto message to the response
func NotificationFromProto(n *proto.Notification) *NotificationResponse {
	if n == nil {
		return nil
	}

	return &NotificationResponse{
		ID:          n.Id,
		UserID:      n.UserId,
		Title:       n.Title,
		Message:     n.Message,
		Type:        string(n.Type),
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt.UTC().Format(time.RFC3339Nano),
		RelatedType: n.RelatedType,
		RelatedID:   n.RelatedId,
	}
}

// NotificationsFromProto converts a list, never returning nil
func NotificationsFromProto(list []*proto.Notification) []*NotificationResponse {
	out := make([]*NotificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, NotificationFromProto(n))
	}
	return out
}

// UnreadCountResponse is the response for the unread counter
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// MarkAllReadResponse reports how many notifications were flipped
type MarkAllReadResponse struct {
	Updated int `json:"updated"`
}

// DeleteResponse is the response for a delete
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// UserResponse is the authenticated user
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
}

// LoginResponse is the response for a successful login
type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   string       `json:"expires_at"`
	User        UserResponse `json:"user"`
}

// LoginFromProto converts a proto message to the response
func LoginFromProto(l *proto.LoginResponse) *LoginResponse {
	return &LoginResponse{
		AccessToken: l.AccessToken,
		TokenType:   l.TokenType,
		ExpiresAt:   l.ExpiresAt.UTC().Format(time.RFC3339),
		User: UserResponse{
			ID:       l.User.Id,
			Username: l.User.Username,
			FullName: l.User.FullName,
		},
	}
}

// ListMeta is the metadata of a list response
type ListMeta struct {
	Limit int `json:"limit,omitempty"`
	Count int `json:"count"`
}
