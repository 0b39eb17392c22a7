/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package httpapi exposes the service over HTTP: sandbox preparation,
// agent runs, GitHub App installation checks, and chat message access
// with a live websocket feed.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/PramaYudhistira/TinyGen/chatstore"
	"github.com/PramaYudhistira/TinyGen/githubapp"
	"github.com/PramaYudhistira/TinyGen/orchestrator"
	"github.com/PramaYudhistira/TinyGen/relay"
	"github.com/chainguard-dev/clog"
	"github.com/gorilla/websocket"
)

// Config configures the HTTP server.
type Config struct {
	Addr string `env:"ADDR, default=:8080"`
}

// Server is the HTTP API server.
type Server struct {
	cfg   Config
	orch  *orchestrator.Orchestrator
	auth  *githubapp.Authenticator
	store *chatstore.Store
	relay *relay.Relay
	mux   *http.ServeMux

	// runCtx outlives individual requests so fire-and-forget runs are
	// not cancelled when the triggering request returns.
	runCtx context.Context
}

// NewServer wires the routes. runCtx is the long-lived context
// background runs execute under.
func NewServer(runCtx context.Context, cfg Config, orch *orchestrator.Orchestrator,
	auth *githubapp.Authenticator, store *chatstore.Store, rl *relay.Relay) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		auth:   auth,
		store:  store,
		relay:  rl,
		mux:    http.NewServeMux(),
		runCtx: runCtx,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /create-sandbox", s.createSandboxHandler)
	s.mux.HandleFunc("POST /run-claude-agent", s.runAgentHandler)
	s.mux.HandleFunc("GET /check-github-app/{username}", s.checkGitHubAppHandler)
	s.mux.HandleFunc("GET /chats/{chatID}/messages", s.messagesHandler)
	s.mux.HandleFunc("GET /chats/{chatID}/subscribe", s.subscribeHandler)
	s.mux.HandleFunc("GET /healthz", s.healthHandler)
}

// Handler returns the HTTP handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until the listener fails or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	clog.FromContext(ctx).InfoContextf(ctx, "listening on %s", s.cfg.Addr)
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.WithoutCancel(ctx))
	}()
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

var upgrader = websocket.Upgrader{
	// The API fronts a first-party web client; origin enforcement is
	// the proxy's job.
	CheckOrigin: func(*http.Request) bool { return true },
}
