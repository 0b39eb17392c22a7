/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package relay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/PramaYudhistira/TinyGen/agent"
	"github.com/PramaYudhistira/TinyGen/chatstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelay(t *testing.T) (*Relay, *chatstore.Store) {
	t.Helper()
	store, err := chatstore.New(filepath.Join(t.TempDir(), "chats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.UpsertChat(context.Background(), &chatstore.Chat{ID: "chat-1"}))
	return New(store), store
}

func TestHandleEventText(t *testing.T) {
	r, store := newRelay(t)
	ctx := context.Background()

	r.HandleEvent(ctx, agent.Event{ChatID: "chat-1", Text: "I fixed the bug"})

	msgs, err := store.Messages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "I fixed the bug", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.False(t, msgs[0].IsToolUse)
}

func TestHandleEventToolUse(t *testing.T) {
	r, store := newRelay(t)
	ctx := context.Background()

	tu := agent.Summarize("Bash", "t1", map[string]any{"command": "go vet ./..."})
	r.HandleEvent(ctx, agent.Event{ChatID: "chat-1", Tool: &tu})

	msgs, err := store.Messages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Using tool: Ran command", msgs[0].Content)
	assert.True(t, msgs[0].IsToolUse)

	toolData, ok := msgs[0].Metadata["tool_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Bash", toolData["tool_name"])
	assert.Equal(t, "go vet ./...", toolData["summary"])
}

func TestHandleEventReflectionTagged(t *testing.T) {
	r, store := newRelay(t)
	ctx := context.Background()

	r.HandleEvent(ctx, agent.Event{ChatID: "chat-1", Text: "🔍 REVIEW: looks good", Reflection: true})

	msgs, err := store.Messages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, true, msgs[0].Metadata["is_reflection"])
}

func TestSubscribeReceivesLiveMessages(t *testing.T) {
	r, _ := newRelay(t)
	ctx := context.Background()

	feed, cancel := r.Subscribe("chat-1")
	defer cancel()

	r.Say(ctx, "chat-1", "🚀 Starting the run")

	select {
	case msg := <-feed:
		assert.Equal(t, "🚀 Starting the run", msg.Content)
		assert.Positive(t, msg.ID)
	case <-time.After(time.Second):
		t.Fatal("no message on live feed")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	r, _ := newRelay(t)
	ctx := context.Background()

	feed, cancel := r.Subscribe("chat-1")
	cancel()

	r.Say(ctx, "chat-1", "after cancel")

	select {
	case msg := <-feed:
		t.Fatalf("unexpected delivery after cancel: %v", msg.Content)
	default:
	}
}

func TestSubscribeOtherChatNotDelivered(t *testing.T) {
	r, store := newRelay(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertChat(ctx, &chatstore.Chat{ID: "chat-2"}))

	feed, cancel := r.Subscribe("chat-2")
	defer cancel()

	r.Say(ctx, "chat-1", "for another chat")

	select {
	case msg := <-feed:
		t.Fatalf("cross-chat delivery: %v", msg.Content)
	default:
	}
}
