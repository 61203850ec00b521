package models

import (
	"testing"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/internal/api/errors"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNotificationRequestValidate(t *testing.T) {
	valid := CreateNotificationRequest{UserID: "u1", Title: "Contract signed", Type: "contract"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*CreateNotificationRequest)
		code   string
	}{
		{"missing user", func(r *CreateNotificationRequest) { r.UserID = "" }, "required_field_missing"},
		{"missing title", func(r *CreateNotificationRequest) { r.Title = "" }, "required_field_missing"},
		{"unknown type", func(r *CreateNotificationRequest) { r.Type = "urgent" }, "invalid_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			var apiErr *errors.APIError
			require.ErrorAs(t, req.Validate(), &apiErr)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}

	p := valid.ToProto()
	assert.Equal(t, proto.NotificationType_CONTRACT, p.Type)
	assert.Equal(t, "u1", p.UserId)
}

func TestUpdateNotificationRequestValidate(t *testing.T) {
	yes, no := true, false
	assert.NoError(t, (&UpdateNotificationRequest{IsRead: &yes}).Validate())
	assert.Error(t, (&UpdateNotificationRequest{IsRead: &no}).Validate())
	assert.Error(t, (&UpdateNotificationRequest{}).Validate())
}

func TestLoginRequestValidate(t *testing.T) {
	assert.NoError(t, (&LoginRequest{Username: "a", Password: "b"}).Validate())
	assert.Error(t, (&LoginRequest{Username: "a"}).Validate())
	assert.Error(t, (&LoginRequest{Password: "b"}).Validate())
}

func TestNotificationFromProto(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	resp := NotificationFromProto(&proto.Notification{
		Id: "n1", UserId: "u1", Title: "t", Type: proto.NotificationType_INFO, CreatedAt: created, RelatedId: "c9",
	})

	assert.Equal(t, "n1", resp.ID)
	assert.Equal(t, "info", resp.Type)
	assert.Equal(t, "2024-03-01T12:00:00Z", resp.CreatedAt)
	assert.Equal(t, "c9", resp.RelatedID)

	assert.Nil(t, NotificationFromProto(nil))
	assert.NotNil(t, NotificationsFromProto(nil))
}
