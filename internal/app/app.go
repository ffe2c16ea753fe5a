// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires configuration, storage, the session manager, and the
// API server into a runnable application.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shellmux/shellmux/internal/api"
	"github.com/shellmux/shellmux/internal/api/handlers"
	"github.com/shellmux/shellmux/internal/config"
	"github.com/shellmux/shellmux/internal/session"
	"github.com/shellmux/shellmux/internal/store"
)

// App is the main application container.
type App struct {
	configPath string
	version    string
	config     *config.Config

	store     *store.SQLiteStore
	manager   *session.Manager
	wsHandler *handlers.WSHandler
	apiServer *http.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	// Load configuration
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loader := config.NewLoader()
		loaded, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	validator := config.NewValidator()
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app.config = cfg

	return app, nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Initialize sets up all application components.
func (a *App) Initialize() error {
	cfg := a.config

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create data directories: %w", err)
	}

	// Open the session store
	st, err := store.Open(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	// Records left running by a previous process are unrecoverable.
	orphans, err := st.RecoverOrphans()
	if err != nil {
		return fmt.Errorf("failed to recover orphaned sessions: %w", err)
	}
	if orphans > 0 {
		log.Printf("app: marked %d orphaned sessions as interrupted", orphans)
	}

	if err := st.SeedDefaultProfile(cfg.Profile.DefaultName, cfg.Profile.DefaultCommand, cfg.Session.DefaultCwd); err != nil {
		return fmt.Errorf("failed to seed default profile: %w", err)
	}

	backend, err := newBackend(cfg.Session.Backend)
	if err != nil {
		return err
	}

	a.manager = session.NewManager(session.Config{
		LogsDir:      cfg.Paths.LogsDir,
		DefaultCwd:   cfg.Session.DefaultCwd,
		GitDiffDelay: cfg.GitDiffDelay(),
	}, backend, st)

	// Set up the API server
	router, wsHandler := api.NewRouter(api.Dependencies{
		Store:   st,
		Manager: a.manager,
	})
	a.wsHandler = wsHandler
	a.apiServer = api.NewHTTPServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, router)

	return nil
}

// newBackend selects the process back-end by name.
func newBackend(name string) (session.Backend, error) {
	switch name {
	case "", "pty":
		return session.NewPTYBackend(), nil
	case "pipe":
		return session.NewPipeBackend(), nil
	default:
		return nil, fmt.Errorf("unknown session backend: %q", name)
	}
}

// Start starts the API server in the background.
func (a *App) Start() error {
	cert, key, useTLS, err := api.ResolveTLS(a.config.Server.TLSCert, a.config.Server.TLSKey)
	if err != nil {
		return fmt.Errorf("invalid TLS config: %w", err)
	}

	go func() {
		var err error
		if useTLS {
			log.Printf("app: serving HTTPS on %s", a.apiServer.Addr)
			err = a.apiServer.ListenAndServeTLS(cert, key)
		} else {
			log.Printf("app: serving HTTP on %s", a.apiServer.Addr)
			err = a.apiServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Printf("app: server error: %v", err)
			a.Stop()
		}
	}()

	return nil
}

// Run initializes and starts the app, then blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(); err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		return err
	}

	log.Printf("shellmux %s ready", a.version)

	// Wait for interrupt signal or stop request
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("app: received signal %v, shutting down", sig)
	case <-ctx.Done():
		log.Printf("app: context cancelled, shutting down")
	case <-a.done:
		log.Printf("app: stop requested, shutting down")
	}

	return a.Shutdown()
}

// Stop signals the app to shut down.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() error {
	// Stop accepting new requests first.
	if a.apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("app: error shutting down API server: %v", err)
		}
	}

	// Close live WebSocket connections, then terminate the children they
	// were attached to.
	if a.wsHandler != nil {
		a.wsHandler.Shutdown()
	}
	if a.manager != nil {
		a.manager.Shutdown()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("app: error closing store: %v", err)
		}
	}

	log.Printf("app: shutdown complete")
	return nil
}
