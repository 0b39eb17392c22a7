/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PramaYudhistira/TinyGen/chatstore"
	"github.com/PramaYudhistira/TinyGen/githubapp"
	"github.com/PramaYudhistira/TinyGen/relay"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, githubURL string) (*Server, *chatstore.Store, *relay.Relay) {
	t.Helper()

	store, err := chatstore.New(filepath.Join(t.TempDir(), "chats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))

	opts := []githubapp.Option{}
	if githubURL != "" {
		opts = append(opts, githubapp.WithBaseURL(githubURL))
	}
	auth, err := githubapp.New(githubapp.Config{ClientID: "Iv1.test", PrivateKey: pemKey}, opts...)
	require.NoError(t, err)

	rl := relay.New(store)
	srv := NewServer(context.Background(), Config{Addr: ":0"}, nil, auth, store, rl)
	return srv, store, rl
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateSandboxValidation(t *testing.T) {
	srv, _, _ := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/create-sandbox",
		strings.NewReader(`{"chat_id":"c1"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunAgentValidation(t *testing.T) {
	srv, _, _ := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run-claude-agent",
		strings.NewReader(`{"chat_id":"c1","repo_url":"https://github.com/a/b"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckGitHubApp(t *testing.T) {
	github := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app/installations" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[{"id": 5, "account": {"login": "octocat"}}]`)
	}))
	defer github.Close()

	srv, _, _ := testServer(t, github.URL)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check-github-app/octocat", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info githubapp.InstallationInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.Installed)
	assert.EqualValues(t, 5, info.InstallationID)
}

func TestMessagesEndpoint(t *testing.T) {
	srv, store, _ := testServer(t, "")
	ctx := context.Background()

	require.NoError(t, store.UpsertChat(ctx, &chatstore.Chat{ID: "chat-1"}))
	_, err := store.AppendMessage(ctx, &chatstore.Message{
		ChatID: "chat-1", Content: "hello", Role: "assistant",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/chat-1/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []*chatstore.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hello", body.Messages[0].Content)
}

func TestMessagesEndpointUnknownChat(t *testing.T) {
	srv, _, _ := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/nope/messages", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscribeStreamsMessages(t *testing.T) {
	srv, store, rl := testServer(t, "")
	ctx := context.Background()

	require.NoError(t, store.UpsertChat(ctx, &chatstore.Chat{ID: "chat-1"}))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chats/chat-1/subscribe"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)
	rl.Say(ctx, "chat-1", "live update")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg chatstore.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "live update", msg.Content)
}
