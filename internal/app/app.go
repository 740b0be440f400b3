// Package app wires the voxdesk edge server subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithArchiver, WithBackendClient). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxdesk/voxdesk/internal/backend"
	"github.com/voxdesk/voxdesk/internal/bridge"
	"github.com/voxdesk/voxdesk/internal/calllog"
	"github.com/voxdesk/voxdesk/internal/config"
	"github.com/voxdesk/voxdesk/internal/health"
	"github.com/voxdesk/voxdesk/internal/observe"
	"github.com/voxdesk/voxdesk/internal/session"
)

// readHeaderTimeout bounds slow-header attacks on the listener.
const readHeaderTimeout = 10 * time.Second

// BackendClient is the subset of the bootstrap API the app needs.
type BackendClient interface {
	Profile(ctx context.Context) (backend.Profile, error)
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes for the voxdesk edge server.
type App struct {
	cfg *config.Config

	archiver session.Archiver
	client   BackendClient
	store    *calllog.Store
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchiver injects a call archiver instead of connecting to PostgreSQL.
func WithArchiver(a session.Archiver) Option {
	return func(app *App) { app.archiver = a }
}

// WithBackendClient injects a bootstrap API client.
func WithBackendClient(c BackendClient) Option {
	return func(app *App) { app.client = c }
}

// New creates an App by wiring all subsystems together: the call-log store
// (when configured), the backend bootstrap client, the websocket bridge, and
// the health and metrics endpoints.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initCallLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init call log: %w", err)
	}
	if err := a.initBackendClient(); err != nil {
		return nil, fmt.Errorf("app: init backend client: %w", err)
	}
	a.initServer()

	return a, nil
}

// initCallLog connects the PostgreSQL call archive, or leaves the archiver
// nil when no DSN is configured.
func (a *App) initCallLog(ctx context.Context) error {
	if a.archiver != nil {
		return nil
	}
	dsn := a.cfg.CallLog.PostgresDSN
	if dsn == "" {
		return nil
	}

	store, err := calllog.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.archiver = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initBackendClient builds the bootstrap REST client unless one was injected.
func (a *App) initBackendClient() error {
	if a.client != nil {
		return nil
	}
	opts := []backend.Option{}
	if a.cfg.Backend.APIKey != "" {
		opts = append(opts, backend.WithAPIKey(a.cfg.Backend.APIKey))
	}
	if a.cfg.Backend.RequestTimeout > 0 {
		opts = append(opts, backend.WithTimeout(a.cfg.Backend.RequestTimeout))
	}
	client, err := backend.New(a.cfg.Backend.BaseURL, opts...)
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

// initServer assembles the HTTP mux: bridge, health probes, metrics.
func (a *App) initServer() {
	relay := bridge.New(bridge.Config{
		BackendBase: a.cfg.Backend.BaseURL,
		DialTimeout: a.cfg.Backend.RequestTimeout,
	})

	checkers := []health.Checker{
		{Name: "backend", Check: a.client.Ping},
	}
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "call_log", Check: a.store.Ping})
	}

	mux := http.NewServeMux()
	mux.Handle("GET /realtime/voice/{sessionID}", relay)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Archiver returns the configured call archiver, or nil when call logging is
// disabled.
func (a *App) Archiver() session.Archiver { return a.archiver }

// Backend returns the bootstrap API client.
func (a *App) Backend() BackendClient { return a.client }

// Run serves HTTP until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("edge server listening",
		"addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown drains the HTTP server and tears down all subsystems in order.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
