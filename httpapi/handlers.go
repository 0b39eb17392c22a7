/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/PramaYudhistira/TinyGen/chatstore"
	"github.com/PramaYudhistira/TinyGen/orchestrator"
	"github.com/chainguard-dev/clog"
)

type createSandboxRequest struct {
	ChatID   string `json:"chat_id"`
	RepoURL  string `json:"repo_url"`
	Username string `json:"user_github_username"`
}

// createSandboxHandler prepares a sandbox synchronously: access
// resolution, fork if needed, clone and snapshot.
func (s *Server) createSandboxHandler(w http.ResponseWriter, r *http.Request) {
	var req createSandboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ChatID == "" || req.RepoURL == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "chat_id, repo_url and user_github_username are required")
		return
	}

	res := s.orch.CreateSandbox(r.Context(), req.ChatID, req.RepoURL, req.Username)
	writeJSON(w, res)
}

// runAgentHandler starts a run in the background and returns
// immediately. Progress lands in the chat; the terminal state lands on
// the chat record.
func (s *Server) runAgentHandler(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ChatID == "" || req.RepoURL == "" || req.Username == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "repo_url, user_github_username, chat_id and prompt are required")
		return
	}

	go func() {
		res := s.orch.Run(s.runCtx, req)
		clog.FromContext(s.runCtx).InfoContextf(s.runCtx,
			"run for chat %s finished with status %s", req.ChatID, res.Status)
	}()

	writeJSON(w, map[string]string{
		"status":  "started",
		"chat_id": req.ChatID,
	})
}

// checkGitHubAppHandler reports whether the GitHub App is installed
// for the given account.
func (s *Server) checkGitHubAppHandler(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	info, err := s.auth.CheckInstallation(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, info)
}

// messagesHandler returns the full message history of a chat in
// insertion order.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")

	if _, err := s.store.GetChat(r.Context(), chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msgs, err := s.store.Messages(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []*chatstore.Message{}
	}
	writeJSON(w, map[string]any{"messages": msgs})
}

// subscribeHandler streams new chat messages over a websocket until
// the client disconnects.
func (s *Server) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")
	log := clog.FromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.WarnContextf(r.Context(), "websocket upgrade for chat %s: %v", chatID, err)
		return
	}
	defer conn.Close()

	feed, cancel := s.relay.Subscribe(chatID)
	defer cancel()

	// Reads are discarded; the read loop just notices the disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-feed:
			if err := conn.WriteJSON(msg); err != nil {
				log.WarnContextf(r.Context(), "websocket write for chat %s: %v", chatID, err)
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}
