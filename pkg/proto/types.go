package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NotificationType is the category tag of a notification
type NotificationType string

const (
	NotificationType_INFO     NotificationType = "info"
	NotificationType_SUCCESS  NotificationType = "success"
	NotificationType_WARNING  NotificationType = "warning"
	NotificationType_ERROR    NotificationType = "error"
	NotificationType_CONTRACT NotificationType = "contract"
	NotificationType_SYSTEM   NotificationType = "system"
)

// Notification is a single notification record owned by the backend
type Notification struct {
	Id          string           `json:"id"`
	UserId      string           `json:"user_id"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Type        NotificationType `json:"type"`
	IsRead      bool             `json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
	RelatedType string           `json:"related_type,omitempty"`
	RelatedId   string           `json:"related_id,omitempty"`
}

// Clone returns a copy of the notification
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// timestampLayouts are tried in order when decoding created_at. Layouts
// without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a backend timestamp in any of the accepted layouts
func ParseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// UnmarshalJSON decodes a notification, accepting created_at with or without
// a zone. A missing or unparseable created_at leaves the zero time rather
// than rejecting the record.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type plain Notification
	aux := struct {
		*plain
		CreatedAt *string `json:"created_at"`
	}{plain: (*plain)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	n.CreatedAt = time.Time{}
	if aux.CreatedAt != nil && *aux.CreatedAt != "" {
		if t, err := ParseTimestamp(*aux.CreatedAt); err == nil {
			n.CreatedAt = t
		}
	}
	return nil
}

// CreateNotificationRequest is used by producers to create a notification
type CreateNotificationRequest struct {
	UserId      string           `json:"user_id"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Type        NotificationType `json:"type,omitempty"`
	RelatedType string           `json:"related_type,omitempty"`
	RelatedId   string           `json:"related_id,omitempty"`
}

// UnreadCount is the response body of the unread-count endpoint
type UnreadCount struct {
	Count int `json:"count"`
}

// User is the authenticated user returned by the login endpoint
type User struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
}

// LoginRequest is the body of the login endpoint
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by the login endpoint
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// Frame types carried in the "type" field of a real-time frame
const (
	FrameNotification = "notification"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameHeartbeat    = "heartbeat"
)

// Frame is the envelope of every real-time message
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PingFrame is the liveness payload a client sends while the channel is open
var PingFrame = []byte(`{"type":"ping"}`)

// PongFrame is the server's answer to a ping
var PongFrame = []byte(`{"type":"pong"}`)

// EncodeNotificationFrame wraps a notification in a real-time frame
func EncodeNotificationFrame(n *Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return json.Marshal(Frame{Type: FrameNotification, Data: data})
}

// Message is a decoded real-time frame. The set of variants is closed.
type Message interface {
	isMessage()
}

// NotificationEvent carries a newly created notification
type NotificationEvent struct {
	Notification *Notification
}

// Pong acknowledges a ping
type Pong struct{}

// Heartbeat is a server keep-alive. Timestamp is zero when the frame does
// not carry a readable one.
type Heartbeat struct {
	Timestamp time.Time
}

// Unknown is any frame whose type this client does not understand
type Unknown struct {
	Type string
}

func (NotificationEvent) isMessage() {}
func (Pong) isMessage()              {}
func (Heartbeat) isMessage()         {}
func (Unknown) isMessage()           {}

// ErrMalformedFrame is returned when a payload is not a valid frame
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeMessage parses a raw payload into one of the Message variants
func DecodeMessage(payload []byte) (Message, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Type {
	case FrameNotification:
		var n Notification
		if len(frame.Data) == 0 {
			return nil, fmt.Errorf("%w: notification frame without data", ErrMalformedFrame)
		}
		if err := json.Unmarshal(frame.Data, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return NotificationEvent{Notification: &n}, nil
	case FramePong:
		return Pong{}, nil
	case FrameHeartbeat:
		// heartbeat carries the timestamp at the top level
		var hb struct {
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(payload, &hb); err != nil || hb.Timestamp == "" {
			return Heartbeat{}, nil
		}
		ts, err := ParseTimestamp(hb.Timestamp)
		if err != nil {
			return Heartbeat{}, nil
		}
		return Heartbeat{Timestamp: ts}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return Unknown{Type: frame.Type}, nil
	}
}

// MessageHandler handles every Message variant. Adding a variant adds a
// method here, so every handler has to be updated before it compiles.
type MessageHandler interface {
	OnNotification(NotificationEvent)
	OnPong(Pong)
	OnHeartbeat(Heartbeat)
	OnUnknown(Unknown)
}

// Dispatch routes a decoded message to the matching handler method
func Dispatch(m Message, h MessageHandler) {
	switch v := m.(type) {
	case NotificationEvent:
		h.OnNotification(v)
	case Pong:
		h.OnPong(v)
	case Heartbeat:
		h.OnHeartbeat(v)
	case Unknown:
		h.OnUnknown(v)
	default:
		panic(fmt.Sprintf("proto: unhandled message variant %T", m))
	}
}
