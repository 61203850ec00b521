package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/krasl809/JANDALISYS-sub003/internal/auth"
	"github.com/krasl809/JANDALISYS-sub003/internal/domain"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/internal/telemetry"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RESTPrefix is the path prefix of the notification REST API
const RESTPrefix = "/api/v1"

// RealtimePath is where the WebSocket handler is mounted
const RealtimePath = "/ws"

// requestTimeout bounds REST handlers; the WebSocket route is not affected
const requestTimeout = 30 * time.Second

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Maximum accepted request body in bytes
	MaxBodySize int64

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// CORS origins allowed to call the API
	AllowedOrigins []string

	MetricsEnabled bool
	MetricsPath    string

	// Service name used for tracing
	ServiceName string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		MaxBodySize:    1 << 20,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		AllowedOrigins: []string{"*"},
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
		ServiceName:    "jandalisys-notifyd",
	}
}

// Authenticator issues and verifies access tokens
type Authenticator interface {
	auth.Verifier
	Login(username, password string) (*proto.LoginResponse, error)
}

// API serves the notification REST endpoints and mounts the real-time handler
type API struct {
	config   Config
	router   *chi.Mux
	store    domain.NotificationStore
	auth     Authenticator
	realtime http.Handler
	logger   zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	ready    atomic.Bool
}

// NewAPI creates a new API instance. realtime may be nil, in which case no
// WebSocket endpoint is mounted.
func NewAPI(config Config, store domain.NotificationStore, authenticator Authenticator, realtime http.Handler) *API {
	defaults := DefaultConfig()

	if config.Addr == "" {
		config.Addr = defaults.Addr
	}

	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaults.MaxBodySize
	}

	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}

	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = defaults.AllowedOrigins
	}

	if config.MetricsPath == "" {
		config.MetricsPath = defaults.MetricsPath
	}

	if config.ServiceName == "" {
		config.ServiceName = defaults.ServiceName
	}

	a := &API{
		config:   config,
		store:    store,
		auth:     authenticator,
		realtime: realtime,
		logger:   logging.Component("api"),
	}
	a.router = a.buildRouter()

	return a
}

// Handler returns the root HTTP handler
func (a *API) Handler() http.Handler {
	return a.router
}

// buildRouter wires middleware and routes
func (a *API) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.HTTPMiddleware("/healthz", "/readyz", a.config.MetricsPath))
	r.Use(telemetry.HTTPMiddleware(a.config.ServiceName))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	a.registerRoutes(r)

	return r
}

// registerRoutes sets up all API endpoints
func (a *API) registerRoutes(r chi.Router) {
	// Health checks
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !a.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if a.config.MetricsEnabled {
		r.Handle(a.config.MetricsPath, promhttp.Handler())
	}

	if a.realtime != nil {
		r.Handle(RealtimePath, a.realtime)
	}

	r.Route(RESTPrefix, func(r chi.Router) {
		r.Use(metricsMiddleware)
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(middleware.RequestSize(a.config.MaxBodySize))

		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(a.auth))

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", a.handleListNotifications)
				r.Post("/", a.handleCreateNotification)
				r.Get("/unread-count", a.handleUnreadCount)
				r.Post("/mark-all-read", a.handleMarkAllRead)
				r.Get("/{id}", a.handleGetNotification)
				r.Put("/{id}", a.handleUpdateNotification)
				r.Delete("/{id}", a.handleDeleteNotification)
			})
		})
	})
}

// Start runs the HTTP server until ctx is done
func (a *API) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.Addr, err)
	}

	server := &http.Server{
		Handler:      a.router,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}

	a.mu.Lock()
	a.server = server
	a.listener = ln
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.ready.Store(true)
	a.logger.Info().Str("addr", ln.Addr().String()).Msg("API server started")

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		a.ready.Store(false)
		if ok && err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	}
}

// Addr returns the address the server listens on, or "" before Start
func (a *API) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Shutdown stops the API server. Hijacked WebSocket connections are not
// tracked here; the real-time handler closes them itself.
func (a *API) Shutdown(ctx context.Context) error {
	a.ready.Store(false)

	a.mu.Lock()
	server := a.server
	a.mu.Unlock()

	if server == nil {
		return nil
	}

	a.logger.Info().Msg("Shutting down API server")
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}
