package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/krasl809/JANDALISYS-sub003/pkg/session"
)

// LoginTimeout bounds the authentication request. No other request is timed
// by the client; callers control deadlines through their context.
const LoginTimeout = 10 * time.Second

// DefaultRESTPrefix is the path prefix of the REST API on the backend
const DefaultRESTPrefix = "/api/v1"

// APIError is returned for any response with a status code >= 400
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the backend
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the backend
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is an HTTP client for the notification REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	session    session.Provider
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSession sets the provider the bearer token is read from on every request
func WithSession(p session.Provider) ClientOption {
	return func(c *Client) {
		c.session = p
	}
}

// WithHeaders sets additional HTTP headers
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// New creates a client for the API rooted at baseURL (e.g. http://host/api/v1)
func New(baseURL string, options ...ClientOption) *Client {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")

	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		headers:    headers,
		session:    session.Static{},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// BaseURL returns the API base the client was created with
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login authenticates against the backend and returns the issued token
func (c *Client) Login(ctx context.Context, username, password string) (*proto.LoginResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, LoginTimeout)
	defer cancel()

	req := proto.LoginRequest{Username: username, Password: password}
	resp, err := c.do(ctx, http.MethodPost, "auth/login", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var login proto.LoginResponse
	if err := decodeBody(resp.Body, &login); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if login.AccessToken == "" {
		return nil, fmt.Errorf("login response carries no access token")
	}

	return &login, nil
}

// ListNotifications retrieves the current user's notifications, newest first
func (c *Client) ListNotifications(ctx context.Context) ([]*proto.Notification, error) {
	resp, err := c.do(ctx, http.MethodGet, "notifications/", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var notifications []*proto.Notification
	if err := decodeBody(resp.Body, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return notifications, nil
}

// UnreadCount retrieves the number of unread notifications
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, "notifications/unread-count", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var count proto.UnreadCount
	if err := decodeBody(resp.Body, &count); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return count.Count, nil
}

// MarkRead marks a single notification as read
func (c *Client) MarkRead(ctx context.Context, id string) error {
	body := map[string]bool{"is_read": true}
	resp, err := c.do(ctx, http.MethodPut, "notifications/"+url.PathEscape(id), body)
	if err != nil {
		return err
	}
	return drain(resp)
}

// MarkAllRead marks every notification of the current user as read
func (c *Client) MarkAllRead(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "notifications/mark-all-read", nil)
	if err != nil {
		return err
	}
	return drain(resp)
}

// DeleteNotification deletes a notification
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "notifications/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return drain(resp)
}

// CreateNotification creates a notification for a user. Used by producers.
func (c *Client) CreateNotification(ctx context.Context, req *proto.CreateNotificationRequest) (*proto.Notification, error) {
	resp, err := c.do(ctx, http.MethodPost, "notifications/", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var n proto.Notification
	if err := decodeBody(resp.Body, &n); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &n, nil
}

// do makes an HTTP request relative to the API base
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, err
	}

	for k, v := range c.headers {
		req.Header[k] = v
	}
	if token := c.session.Current().Token; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}

	return resp, nil
}

// errorMessage extracts a message from the error body formats the backends use
func errorMessage(body []byte, fallback string) string {
	var errResp struct {
		Error  json.RawMessage `json:"error"`
		Detail string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return fallback
	}

	if len(errResp.Error) > 0 {
		var msg string
		if err := json.Unmarshal(errResp.Error, &msg); err == nil && msg != "" {
			return msg
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(errResp.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if errResp.Detail != "" {
		return errResp.Detail
	}
	return fallback
}

// decodeBody decodes either the {success,data} envelope or a bare JSON body
func decodeBody(r io.Reader, v any) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var envelope struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Success != nil {
		if len(envelope.Data) == 0 {
			return nil
		}
		return json.Unmarshal(envelope.Data, v)
	}

	return json.Unmarshal(body, v)
}

func drain(resp *http.Response) error {
	defer resp.Body.Close()
	_, err := io.Copy(io.Discard, resp.Body)
	return err
}
