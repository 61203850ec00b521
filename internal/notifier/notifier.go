package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/krasl809/JANDALISYS-sub003/internal/auth"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/internal/metrics"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Largest frame accepted from a client
	maxMessageSize = 4096

	// Per-client queue depths
	clientEventBuffer   = 100
	clientControlBuffer = 8
)

// Config contains notifier configuration
type Config struct {
	// Maximum idle time before dropping a connection
	MaxIdleTime time.Duration

	// Interval between heartbeat frames
	HeartbeatInterval time.Duration

	// Maximum number of concurrent connections, zero means unlimited
	MaxConnections int

	// Broadcast buffer size for batching events
	BroadcastBufferSize int

	// Flush interval for broadcast buffer
	BroadcastFlushInterval time.Duration

	// Origins allowed to open a channel, empty or "*" allows all
	AllowedOrigins []string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		MaxIdleTime:            2 * time.Minute,
		HeartbeatInterval:      30 * time.Second,
		BroadcastBufferSize:    200,
		BroadcastFlushInterval: 50 * time.Millisecond,
	}
}

// Client represents a connected real-time channel
type Client struct {
	ID         string
	UserID     string
	LastActive time.Time

	conn      *websocket.Conn
	events    <-chan *proto.Notification
	control   chan []byte
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// touch records activity on the channel
func (c *Client) touch() {
	c.mu.Lock()
	c.LastActive = time.Now()
	c.mu.Unlock()
}

// enqueue queues a control frame without blocking
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.control <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// close stops the writer and closes the socket
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Notifier pushes newly created notifications to their recipients over
// WebSocket channels
type Notifier struct {
	config          Config
	verifier        auth.Verifier
	upgrader        websocket.Upgrader
	clients         map[string]*Client
	mu              sync.RWMutex
	logger          zerolog.Logger
	broadcastBuffer *BroadcastBuffer
	metrics         *metrics.Metrics
	wg              sync.WaitGroup
}

// NewNotifier creates a new notification manager
func NewNotifier(config Config, verifier auth.Verifier) *Notifier {
	logger := logging.Component("notifier")

	// Apply default configuration values if not provided
	if config.MaxIdleTime == 0 {
		config.MaxIdleTime = DefaultConfig().MaxIdleTime
	}

	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}

	if config.BroadcastBufferSize == 0 {
		config.BroadcastBufferSize = DefaultConfig().BroadcastBufferSize
	}

	if config.BroadcastFlushInterval == 0 {
		config.BroadcastFlushInterval = DefaultConfig().BroadcastFlushInterval
	}

	n := &Notifier{
		config:   config,
		verifier: verifier,
		clients:  make(map[string]*Client),
		logger:   logger,
		broadcastBuffer: NewBroadcastBuffer(
			config.BroadcastBufferSize,
			config.BroadcastFlushInterval,
		),
		metrics: metrics.GetMetrics(),
	}
	n.upgrader = websocket.Upgrader{
		HandshakeTimeout: writeWait,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      n.checkOrigin,
	}
	return n
}

// Start forwards events to the broadcast buffer until ctx is done or the
// stream is closed
func (n *Notifier) Start(ctx context.Context, events <-chan *proto.Notification) error {
	n.logger.Info().Msg("Starting notifier")

	go n.cleanupIdleClients(ctx)
	go n.sendHeartbeats(ctx)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				n.logger.Info().Msg("Event stream closed, stopping notifier")
				return nil
			}
			n.broadcastBuffer.Publish(event)

		case <-ctx.Done():
			n.logger.Info().Msg("Context canceled, stopping notifier")
			return nil
		}
	}
}

// Publish queues a notification for delivery
func (n *Notifier) Publish(event *proto.Notification) {
	n.broadcastBuffer.Publish(event)
}

// ServeHTTP authenticates the request and upgrades it to a channel. The token
// is read from the Authorization header or the token query parameter.
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	identity, err := n.verifier.Verify(token)
	if err != nil {
		n.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected channel request")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if n.config.MaxConnections > 0 && n.ClientCount() >= n.config.MaxConnections {
		n.logger.Warn().Int("max_connections", n.config.MaxConnections).Msg("Connection limit reached")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		n.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	n.handleClient(conn, identity.UserID)
}

// handleClient registers the client and runs its reader and writer
func (n *Notifier) handleClient(conn *websocket.Conn, userID string) {
	clientID := uuid.NewString()

	client := &Client{
		ID:         clientID,
		UserID:     userID,
		LastActive: time.Now(),
		conn:       conn,
		events:     n.broadcastBuffer.Subscribe(clientID, clientEventBuffer),
		control:    make(chan []byte, clientControlBuffer),
		done:       make(chan struct{}),
	}

	n.mu.Lock()
	n.clients[clientID] = client
	n.mu.Unlock()

	n.logger.Debug().Str("client_id", clientID).Str("user_id", userID).Msg("Client connected")

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.writePump(client)
	}()
	go func() {
		defer n.wg.Done()
		defer n.removeClient(clientID)
		n.readPump(client)
	}()
}

// readPump processes client frames until the connection fails
func (n *Notifier) readPump(client *Client) {
	client.conn.SetReadLimit(maxMessageSize)
	// Clear the deadline inherited from the HTTP server's ReadTimeout
	client.conn.SetReadDeadline(time.Time{})

	for {
		messageType, message, err := client.conn.ReadMessage()
		if err != nil {
			n.logger.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket read error")
			return
		}

		client.touch()

		if messageType == websocket.TextMessage {
			n.processClientMessage(client, message)
		}
	}
}

// processClientMessage handles messages from clients
func (n *Notifier) processClientMessage(client *Client, message []byte) {
	var frame proto.Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		n.logger.Debug().Err(err).Str("client_id", client.ID).Msg("Failed to parse client message")
		return
	}

	switch frame.Type {
	case proto.FramePing:
		if !client.enqueue(proto.PongFrame) {
			n.logger.Debug().Str("client_id", client.ID).Msg("Control queue full, dropping pong")
		}

	default:
		n.logger.Debug().
			Str("client_id", client.ID).
			Str("type", frame.Type).
			Msg("Unknown client frame")
	}
}

// writePump owns every write to the connection
func (n *Notifier) writePump(client *Client) {
	defer client.close()

	for {
		select {
		case event, ok := <-client.events:
			if !ok {
				n.writeClose(client)
				return
			}
			if event.UserId != client.UserID {
				continue
			}

			data, err := proto.EncodeNotificationFrame(event)
			if err != nil {
				n.logger.Error().Err(err).Str("client_id", client.ID).Msg("Failed to encode notification")
				continue
			}
			if err := n.write(client, data); err != nil {
				n.logger.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket write error")
				return
			}

			n.metrics.NotifierEventsPublished.WithLabelValues(string(event.Type)).Inc()
			if !event.CreatedAt.IsZero() {
				n.metrics.NotifierEventDelay.Observe(time.Since(event.CreatedAt).Seconds())
			}

		case frame := <-client.control:
			if err := n.write(client, frame); err != nil {
				n.logger.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket write error")
				return
			}

		case <-client.done:
			return
		}
	}
}

func (n *Notifier) write(client *Client, data []byte) error {
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return client.conn.WriteMessage(websocket.TextMessage, data)
}

func (n *Notifier) writeClose(client *Client) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	client.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// removeClient removes a client
func (n *Notifier) removeClient(clientID string) {
	n.mu.Lock()
	client, exists := n.clients[clientID]
	if exists {
		delete(n.clients, clientID)
	}
	n.mu.Unlock()

	if !exists {
		return
	}

	n.broadcastBuffer.Unsubscribe(clientID)
	client.close()

	n.logger.Debug().Str("client_id", clientID).Msg("Client removed")
}

// ClientCount returns the number of connected clients
func (n *Notifier) ClientCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.clients)
}

// cleanupIdleClients periodically removes idle clients
func (n *Notifier) cleanupIdleClients(ctx context.Context) {
	ticker := time.NewTicker(n.config.MaxIdleTime / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.performClientCleanup()
		case <-ctx.Done():
			return
		}
	}
}

// performClientCleanup removes clients that have been idle for too long
func (n *Notifier) performClientCleanup() {
	now := time.Now()
	var idleClients []string

	n.mu.RLock()
	for id, client := range n.clients {
		client.mu.Lock()
		lastActive := client.LastActive
		client.mu.Unlock()

		if now.Sub(lastActive) > n.config.MaxIdleTime {
			idleClients = append(idleClients, id)
		}
	}
	n.mu.RUnlock()

	for _, id := range idleClients {
		n.removeClient(id)
		n.logger.Debug().Str("client_id", id).Msg("Removed idle client")
	}
}

// sendHeartbeats periodically queues heartbeat frames for every client
func (n *Notifier) sendHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(n.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.broadcastHeartbeat(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (n *Notifier) broadcastHeartbeat(now time.Time) {
	heartbeat := []byte(`{"type":"heartbeat","timestamp":"` + now.UTC().Format(time.RFC3339) + `"}`)

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, client := range n.clients {
		if client.enqueue(heartbeat) {
			n.metrics.NotifierHeartbeats.Inc()
		}
	}
}

// Shutdown closes every channel and waits for the client goroutines
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.logger.Info().Msg("Shutting down notifier")

	// Closing the buffer closes every subscriber channel, so each writer
	// sends a close frame and exits
	if err := n.broadcastBuffer.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Error closing broadcast buffer")
	}

	n.mu.Lock()
	closed := len(n.clients)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		n.mu.Lock()
		for _, client := range n.clients {
			client.close()
		}
		n.mu.Unlock()
		return ctx.Err()
	}

	n.logger.Info().Int("closed_clients", closed).Msg("All client connections closed")
	return nil
}

// checkOrigin allows browser channels only from configured origins
func (n *Notifier) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(n.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range n.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
