// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api wires the HTTP and WebSocket surface over the session core.
package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shellmux/shellmux/internal/api/handlers"
	"github.com/shellmux/shellmux/internal/api/middleware"
	"github.com/shellmux/shellmux/internal/session"
	"github.com/shellmux/shellmux/internal/store"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Store   *store.SQLiteStore
	Manager *session.Manager
}

// NewRouter creates the API router. The returned WSHandler carries live
// WebSocket connections and must be shut down before the session manager.
func NewRouter(deps Dependencies) (*mux.Router, *handlers.WSHandler) {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	r.HandleFunc("/health", handlers.Health).Methods("GET")

	profileHandler := handlers.NewProfileHandler(deps.Store)
	r.HandleFunc("/profiles", profileHandler.List).Methods("GET")
	r.HandleFunc("/profiles", profileHandler.Create).Methods("POST")
	r.HandleFunc("/profiles/{id}", profileHandler.Update).Methods("PUT")
	r.HandleFunc("/profiles/{id}", profileHandler.Delete).Methods("DELETE")

	sessionHandler := handlers.NewSessionHandler(deps.Store, deps.Manager)
	r.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	r.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	r.HandleFunc("/sessions/{id}", sessionHandler.Delete).Methods("DELETE")

	logHandler := handlers.NewLogHandler(deps.Store, deps.Manager)
	r.HandleFunc("/logs/{id}", logHandler.Get).Methods("GET")
	r.HandleFunc("/logs/{id}/content", logHandler.Clear).Methods("DELETE")

	gitHandler := handlers.NewGitChangesHandler(deps.Store, deps.Manager)
	r.HandleFunc("/git_changes/{id}", gitHandler.Get).Methods("GET")

	wsHandler := handlers.NewWSHandler(deps.Manager)
	r.HandleFunc("/ws/sessions/{id}", wsHandler.Session).Methods("GET")

	return r, wsHandler
}

// NewHTTPServer builds the http.Server for the router.
func NewHTTPServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    cfg.Addr(),
		Handler: handler,
	}
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
