/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the TinyGen server: an HTTP API that forks and
// clones GitHub repositories into sandboxes, lets a coding agent work
// on them, and publishes the result as a pull request while streaming
// progress into a chat.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/PramaYudhistira/TinyGen/agent"
	"github.com/PramaYudhistira/TinyGen/chatstore"
	"github.com/PramaYudhistira/TinyGen/githubapp"
	"github.com/PramaYudhistira/TinyGen/httpapi"
	"github.com/PramaYudhistira/TinyGen/orchestrator"
	"github.com/PramaYudhistira/TinyGen/relay"
	"github.com/PramaYudhistira/TinyGen/sandbox"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
)

type config struct {
	GitHub  githubapp.Config    `env:", prefix="`
	Agent   agent.Config        `env:", prefix="`
	Sandbox sandbox.LocalConfig `env:", prefix="`
	Runs    orchestrator.Config `env:", prefix="`
	HTTP    httpapi.Config      `env:", prefix="`

	DBPath string `env:"DB_PATH, default=tinygen.db"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	auth, err := githubapp.New(cfg.GitHub)
	if err != nil {
		clog.FatalContextf(ctx, "creating GitHub App authenticator: %v", err)
	}

	store, err := chatstore.New(cfg.DBPath)
	if err != nil {
		clog.FatalContextf(ctx, "opening chat store: %v", err)
	}
	defer store.Close()

	provider, err := sandbox.NewLocalProvider(cfg.Sandbox)
	if err != nil {
		clog.FatalContextf(ctx, "creating sandbox provider: %v", err)
	}

	rl := relay.New(store)
	runner := agent.NewRunner(cfg.Agent)
	orch := orchestrator.New(cfg.Runs, auth, provider, runner, rl, store)

	srv := httpapi.NewServer(ctx, cfg.HTTP, orch, auth, store, rl)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		clog.FatalContextf(ctx, "serving: %v", err)
	}
}
