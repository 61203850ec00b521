package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/internal/api"
	"github.com/krasl809/JANDALISYS-sub003/internal/auth"
	"github.com/krasl809/JANDALISYS-sub003/internal/config"
	"github.com/krasl809/JANDALISYS-sub003/internal/domain"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/krasl809/JANDALISYS-sub003/internal/notifier"
	"github.com/krasl809/JANDALISYS-sub003/internal/storage"
	"github.com/krasl809/JANDALISYS-sub003/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds the graceful shutdown performed by Run
const ShutdownTimeout = 15 * time.Second

// Engine is the main coordinator of the notification service components
type Engine struct {
	config      *config.Config
	storage     domain.NotificationStore
	auth        *auth.Authenticator
	notifier    *notifier.Notifier
	api         *api.API
	logger      zerolog.Logger
	telemetryFn func(context.Context) error
}

// CreateEngine creates a new Engine with all components initialized from the config
func CreateEngine(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.NewStorage(cfg.ToStorageConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	authn, err := auth.NewAuthenticator(cfg.ToAuthConfig())
	if err != nil {
		store.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	n := notifier.NewNotifier(cfg.ToNotifierConfig(), authn)
	a := api.NewAPI(cfg.ToAPIConfig(), store, authn, n)

	return NewEngine(cfg, store, authn, n, a), nil
}

// NewEngine creates a new Engine from already built components
func NewEngine(cfg *config.Config, store domain.NotificationStore, authn *auth.Authenticator, n *notifier.Notifier, a *api.API) *Engine {
	return &Engine{
		config:   cfg,
		storage:  store,
		auth:     authn,
		notifier: n,
		api:      a,
		logger:   logging.Component("engine"),
	}
}

// API returns the HTTP component
func (e *Engine) API() *api.API {
	return e.api
}

// Start runs all components until ctx is done or one of them fails
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().Msg("Starting notification engine")

	telShutdown, err := telemetry.Setup(ctx, e.config.ToTelemetryConfig())
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.storage.Start(ctx)
	})

	// Created notifications flow from storage to the open channels
	g.Go(func() error {
		return e.notifier.Start(ctx, e.storage.EventStream())
	})

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("Notification engine stopped")
	return nil
}

// Shutdown stops the components in dependency order
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down notification engine")

	// Stop accepting requests first
	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down API")
	}

	if err := e.notifier.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down notifier")
	}

	// Shut down storage last
	if err := e.storage.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down storage")
		return err
	}

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	return nil
}

// Run builds the engine, runs it until ctx is done or SIGINT/SIGTERM arrives,
// then shuts it down
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := CreateEngine(cfg)
	if err != nil {
		return err
	}

	runErr := e.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to shut down: %w", err)
	}
	return runErr
}
