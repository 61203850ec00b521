package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/internal/metrics"
	"github.com/krasl809/JANDALISYS-sub003/pkg/client"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/krasl809/JANDALISYS-sub003/pkg/session"
	"github.com/rs/zerolog"
)

// Config contains real-time channel configuration
type Config struct {
	// Explicit endpoint. When empty it is derived from APIBase or Origin.
	URL string

	// REST API base, e.g. https://erp.example.com/api/v1
	APIBase string

	// Page origin, used when no API base is configured
	Origin string

	// Interval between liveness pings while the channel is open
	PingInterval time.Duration

	// Reconnect delay bounds
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Write deadline for the close frame sent on teardown
	CloseTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		CloseTimeout:   time.Second,
	}
}

// Sink receives notifications pushed for the session's user
type Sink interface {
	Apply(n *proto.Notification)
}

// DesktopNotifier raises a native notification when the runtime allows it
type DesktopNotifier interface {
	Permitted() bool
	Notify(title, body string) error
}

// Option configures a Manager
type Option func(*Manager)

// WithDialer replaces the gorilla dialer
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock replaces the system clock
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithDesktopNotifier enables native notifications for pushed records
func WithDesktopNotifier(d DesktopNotifier) Option {
	return func(m *Manager) { m.desktop = d }
}

// WithLogger replaces the component logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records channel activity in the given metrics
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager maintains the real-time channel for one session. Every state
// transition happens under mu; socket I/O happens outside of it.
type Manager struct {
	config  Config
	session session.Provider
	sink    Sink
	dialer  Dialer
	clock   Clock
	desktop DesktopNotifier
	logger  zerolog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	attempt    int
	backoff    *backoff.ExponentialBackOff
	generation uint64
	conn       Conn
	reconnect  Timer
	ping       Ticker
	pingDone   chan struct{}
	torndown   bool
}

// NewManager creates a manager for the session held by provider
func NewManager(config Config, provider session.Provider, sink Sink, opts ...Option) *Manager {
	defaults := DefaultConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = defaults.CloseTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:  config,
		session: provider,
		sink:    sink,
		dialer:  GorillaDialer{},
		clock:   SystemClock{},
		logger:  logging.Component("realtime"),
		ctx:     ctx,
		cancel:  cancel,
		state:   Disconnected,
		backoff: newBackOff(config),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// newBackOff returns min(initial * 2^attempt, max) with no jitter and no
// limit on the number of attempts
func newBackOff(config Config) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     config.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         config.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the reconnect attempt counter
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// ReconnectPending reports whether a reconnect timer is scheduled
func (m *Manager) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnect != nil
}

// Endpoint returns the real-time URL the manager dials
func (m *Manager) Endpoint() (string, error) {
	if m.config.URL != "" {
		return m.config.URL, nil
	}
	return client.WebSocketURL(m.config.APIBase, m.config.Origin)
}

// Connect opens the channel. It returns immediately; the dial runs in the
// background. Without an active session nothing happens.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reconnect != nil && m.state == Disconnected {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	if m.torndown || m.state != Disconnected {
		return
	}

	sess := m.session.Current()
	if !sess.Active() {
		m.logger.Debug().Msg("No active session, not connecting")
		return
	}

	endpoint, err := m.Endpoint()
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to build real-time endpoint")
		return
	}

	m.state = Connecting
	gen := m.generation

	header := http.Header{}
	header.Set("Authorization", "Bearer "+sess.Token)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dial(gen, endpoint, header)
	}()
}

func (m *Manager) dial(gen uint64, endpoint string, header http.Header) {
	m.logger.Debug().Str("url", endpoint).Msg("Dialing real-time channel")

	conn, err := m.dialer.DialContext(m.ctx, endpoint, header)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Warn().Err(err).Str("url", endpoint).Msg("Real-time channel dial failed")
		}
		m.handleClose(gen, websocket.CloseAbnormalClosure)
		return
	}

	m.handleOpen(gen, conn)
}

// handleOpen installs a freshly dialed socket
func (m *Manager) handleOpen(gen uint64, conn Conn) {
	m.mu.Lock()
	if gen != m.generation || m.torndown {
		m.mu.Unlock()
		conn.Close()
		return
	}

	m.state = Open
	m.conn = conn
	m.attempt = 0
	m.backoff.Reset()
	m.ping = m.clock.NewTicker(m.config.PingInterval)
	m.pingDone = make(chan struct{})
	ticker, done := m.ping, m.pingDone

	m.wg.Add(2)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ClientConnectionsOpened.Inc()
	}
	m.logger.Info().Msg("Real-time channel open")

	go func() {
		defer m.wg.Done()
		m.pingLoop(conn, ticker, done)
	}()
	go func() {
		defer m.wg.Done()
		m.readLoop(gen, conn)
	}()
}

func (m *Manager) pingLoop(conn Conn, ticker Ticker, done <-chan struct{}) {
	for {
		select {
		case <-ticker.C():
			if err := conn.WriteMessage(websocket.TextMessage, proto.PingFrame); err != nil {
				m.logger.Debug().Err(err).Msg("Ping write failed")
			}
		case <-done:
			return
		}
	}
}

// readLoop handles frames in receipt order, each one completely before the
// next is read
func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			code := closeCode(err)
			if code != websocket.CloseNormalClosure {
				m.handleError(gen, err)
			}
			m.handleClose(gen, code)
			return
		}
		m.handleMessage(gen, payload)
	}
}

// handleMessage decodes one frame and applies it
func (m *Manager) handleMessage(gen uint64, payload []byte) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	userID := m.session.Current().UserID
	m.mu.Unlock()

	msg, err := proto.DecodeMessage(payload)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Ignoring unparseable frame")
		return
	}

	proto.Dispatch(msg, &dispatcher{m: m, userID: userID})
}

// handleError logs socket errors unless the channel is already going away
func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	state := m.state
	current := gen == m.generation
	m.mu.Unlock()

	if current && state != Closing && state != Disconnected {
		m.logger.Error().Err(err).Msg("Real-time channel error")
	}
}

// handleClose stops the ping and decides whether to reconnect
func (m *Manager) handleClose(gen uint64, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}

	// further events from this socket are stale
	m.generation++
	m.stopPingLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = Disconnected

	if code == websocket.CloseNormalClosure || m.torndown || !m.session.Current().Active() {
		m.logger.Info().Int("code", code).Msg("Real-time channel closed")
		return
	}

	delay := m.backoff.NextBackOff()
	next := m.generation
	m.reconnect = m.clock.AfterFunc(delay, func() { m.fireReconnect(next) })
	m.attempt++

	if m.metrics != nil {
		m.metrics.ClientReconnectsScheduled.Inc()
	}
	m.logger.Info().
		Int("code", code).
		Int("attempt", m.attempt).
		Dur("delay", delay).
		Msg("Real-time channel closed, reconnect scheduled")
}

func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.torndown {
		return
	}
	m.reconnect = nil
	m.connectLocked()
}

func (m *Manager) stopPingLocked() {
	if m.ping != nil {
		m.ping.Stop()
		m.ping = nil
	}
	if m.pingDone != nil {
		close(m.pingDone)
		m.pingDone = nil
	}
}

// Teardown ends the channel for good: handlers are detached, the socket is
// closed with a normal closure and any pending reconnect is cancelled. It
// blocks until the manager's goroutines have exited and is safe to call
// more than once.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.torndown {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}

	m.torndown = true
	m.generation++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.stopPingLocked()
	conn := m.conn
	m.conn = nil
	m.state = Closing
	m.mu.Unlock()

	m.cancel()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.config.CloseTimeout)); err != nil {
			m.logger.Debug().Err(err).Msg("Failed to send close frame")
		}
		conn.Close()
	}

	m.wg.Wait()

	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
	m.logger.Debug().Msg("Real-time channel torn down")
}

// dispatcher applies decoded frames for one session user
type dispatcher struct {
	m      *Manager
	userID string
}

func (d *dispatcher) OnNotification(e proto.NotificationEvent) {
	d.m.countFrame(proto.FrameNotification)

	n := e.Notification
	if n == nil || n.UserId != d.userID {
		return
	}

	if d.m.sink != nil {
		d.m.sink.Apply(n)
	}

	if d.m.desktop != nil && d.m.desktop.Permitted() {
		if err := d.m.desktop.Notify(n.Title, n.Message); err != nil {
			d.m.logger.Debug().Err(err).Msg("Desktop notification failed")
		}
	}
}

func (d *dispatcher) OnPong(proto.Pong) {
	d.m.countFrame(proto.FramePong)
}

func (d *dispatcher) OnHeartbeat(hb proto.Heartbeat) {
	d.m.countFrame(proto.FrameHeartbeat)
	if !hb.Timestamp.IsZero() {
		d.m.logger.Trace().Time("server_time", hb.Timestamp).Msg("Heartbeat")
	}
}

func (d *dispatcher) OnUnknown(u proto.Unknown) {
	d.m.countFrame("unknown")
	d.m.logger.Debug().Str("type", u.Type).Msg("Ignoring frame of unknown type")
}

func (m *Manager) countFrame(frameType string) {
	if m.metrics != nil {
		m.metrics.ClientFramesReceived.WithLabelValues(frameType).Inc()
	}
}

// String describes the manager for logs
func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("realtime.Manager{state=%s attempt=%d}", m.state, m.attempt)
}
