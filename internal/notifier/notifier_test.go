package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/krasl809/JANDALISYS-sub003/internal/auth"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier map[string]auth.Identity

func (f fakeVerifier) Verify(token string) (auth.Identity, error) {
	id, ok := f[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

var testTokens = fakeVerifier{
	"token-1": {UserID: "user-1", Username: "alice"},
	"token-2": {UserID: "user-2", Username: "bob"},
}

type harness struct {
	notifier *Notifier
	server   *httptest.Server
	events   chan *proto.Notification
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	if config.BroadcastFlushInterval == 0 {
		config.BroadcastFlushInterval = 5 * time.Millisecond
	}

	n := NewNotifier(config, testTokens)
	server := httptest.NewServer(n)
	events := make(chan *proto.Notification, 16)

	ctx, cancel := context.WithCancel(context.Background())
	go n.Start(ctx, events)

	h := &harness{notifier: n, server: server, events: events, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		server.Close()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		n.Shutdown(shutdownCtx)
	})
	return h
}

func (h *harness) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.url()+"?token="+token, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return h.notifier.ClientCount() > 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) proto.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := proto.DecodeMessage(payload)
	require.NoError(t, err)
	return msg
}

func TestNotifierRejectsUnauthenticated(t *testing.T) {
	h := newHarness(t, Config{})

	for name, url := range map[string]string{
		"no token":      h.url(),
		"unknown token": h.url() + "?token=forged",
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, h.notifier.ClientCount())
}

func TestNotifierAcceptsHeaderToken(t *testing.T) {
	h := newHarness(t, Config{})

	header := http.Header{}
	header.Set("Authorization", "Bearer token-1")
	conn, _, err := websocket.DefaultDialer.Dial(h.url(), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, proto.PingFrame))
	assert.Equal(t, proto.Pong{}, readMessage(t, conn))
}

func TestNotifierAnswersPing(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t, "token-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, proto.PingFrame))
		assert.Equal(t, proto.Pong{}, readMessage(t, conn))
	}

	// unknown and malformed frames are ignored
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, proto.PingFrame))
	assert.Equal(t, proto.Pong{}, readMessage(t, conn))
}

func TestNotifierDeliversToRecipientOnly(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.dial(t, "token-1")
	bob := h.dial(t, "token-2")
	require.Eventually(t, func() bool { return h.notifier.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	n := testNotification("n-1")
	n.UserId = "user-1"
	h.events <- n

	msg := readMessage(t, alice)
	event, ok := msg.(proto.NotificationEvent)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "n-1", event.Notification.Id)
	assert.Equal(t, "Shipment delayed", event.Notification.Title)
	assert.False(t, event.Notification.IsRead)

	// bob only sees the answer to his own ping
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, proto.PingFrame))
	assert.Equal(t, proto.Pong{}, readMessage(t, bob))
}

func TestNotifierSendsHeartbeats(t *testing.T) {
	h := newHarness(t, Config{HeartbeatInterval: 20 * time.Millisecond})
	conn := h.dial(t, "token-1")

	msg := readMessage(t, conn)
	hb, ok := msg.(proto.Heartbeat)
	require.True(t, ok, "got %T", msg)
	assert.False(t, hb.Timestamp.IsZero())
}

func TestNotifierConnectionLimit(t *testing.T) {
	h := newHarness(t, Config{MaxConnections: 1})
	h.dial(t, "token-1")

	_, resp, err := websocket.DefaultDialer.Dial(h.url()+"?token=token-2", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNotifierRemovesIdleClients(t *testing.T) {
	h := newHarness(t, Config{MaxIdleTime: 40 * time.Millisecond, HeartbeatInterval: time.Hour})
	conn := h.dial(t, "token-1")

	require.Eventually(t, func() bool { return h.notifier.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestNotifierRemovesDisconnectedClients(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t, "token-1")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.notifier.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.notifier.broadcastBuffer.Subscribers())
}

func TestNotifierShutdownClosesChannels(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t, "token-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.notifier.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}

func TestNotifierStartStopsWhenStreamCloses(t *testing.T) {
	n := NewNotifier(Config{}, testTokens)
	defer n.Shutdown(context.Background())

	events := make(chan *proto.Notification)
	done := make(chan error, 1)
	go func() { done <- n.Start(context.Background(), events) }()

	close(events)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after the stream closed")
	}
}

func TestCheckOrigin(t *testing.T) {
	n := NewNotifier(Config{AllowedOrigins: []string{"https://erp.example.com"}}, testTokens)
	defer n.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, n.checkOrigin(req), "non-browser clients send no origin")

	req.Header.Set("Origin", "https://erp.example.com")
	assert.True(t, n.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, n.checkOrigin(req))
}
