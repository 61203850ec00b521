package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/krasl809/JANDALISYS-sub003/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.URL+"/api/v1", WithSession(session.Static{UserID: "u1", Token: "tok-1"}))
	return srv, c
}

func TestListNotifications_Envelope(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/notifications/", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":[{"id":"n2","user_id":"u1","title":"b"},{"id":"n1","user_id":"u1","title":"a","is_read":true}]}`))
	})

	list, err := c.ListNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].Id)
	assert.True(t, list[1].IsRead)
}

func TestListNotifications_BareArray(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"n1","title":"a"}]`))
	})

	list, err := c.ListNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n1", list[0].Id)
}

func TestUnreadCount(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/notifications/unread-count", r.URL.Path)
		w.Write([]byte(`{"count":7}`))
	})

	count, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestMutations(t *testing.T) {
	var calls []string
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Write([]byte(`{"success":true}`))
	})

	ctx := context.Background()
	require.NoError(t, c.MarkRead(ctx, "n1"))
	require.NoError(t, c.MarkAllRead(ctx))
	require.NoError(t, c.DeleteNotification(ctx, "n 2"))

	assert.Equal(t, []string{
		"PUT /api/v1/notifications/n1",
		"POST /api/v1/notifications/mark-all-read",
		"DELETE /api/v1/notifications/n 2",
	}, calls)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
		check  func(error) bool
	}{
		{"envelope", http.StatusNotFound, `{"success":false,"error":{"type":"not_found","code":"notification_not_found","message":"Notification not found"}}`, "Notification not found", IsNotFound},
		{"plain", http.StatusUnauthorized, `{"error":"token expired"}`, "token expired", IsUnauthorized},
		{"detail", http.StatusUnauthorized, `{"detail":"Not authenticated"}`, "Not authenticated", IsUnauthorized},
		{"garbage", http.StatusInternalServerError, `<html>`, "500 Internal Server Error", func(error) bool { return true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.ListNotifications(context.Background())
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.want, apiErr.Message)
			assert.True(t, tt.check(err))
		})
	}
}

func TestLogin(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)

		var req proto.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "clerk", req.Username)

		w.Write([]byte(`{"success":true,"data":{"access_token":"jwt","token_type":"bearer","user":{"id":"u1","username":"clerk"}}}`))
	})

	resp, err := c.Login(context.Background(), "clerk", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt", resp.AccessToken)
	assert.Equal(t, "u1", resp.User.Id)
}

func TestRequestWithoutSessionSendsNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"count":0}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).UnreadCount(context.Background())
	require.NoError(t, err)
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		apiBase string
		origin  string
		want    string
	}{
		{"http://erp.local/api/v1", "", "ws://erp.local/ws"},
		{"https://erp.example.com/api/v1/", "", "wss://erp.example.com/ws"},
		{"https://erp.example.com/portal/api/v1", "", "wss://erp.example.com/portal/ws"},
		{"http://localhost:8000", "", "ws://localhost:8000/ws"},
		{"", "https://erp.example.com/contracts?tab=1", "wss://erp.example.com/ws"},
		{"", "http://localhost:5173", "ws://localhost:5173/ws"},
	}

	for _, tt := range tests {
		got, err := WebSocketURL(tt.apiBase, tt.origin)
		require.NoError(t, err, tt.apiBase+tt.origin)
		assert.Equal(t, tt.want, got)
	}

	_, err := WebSocketURL("", "")
	assert.Error(t, err)
	_, err = WebSocketURL("ftp://host/api/v1", "")
	assert.Error(t, err)
}
