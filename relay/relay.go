/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package relay turns agent events into persisted chat messages and
// fans them out to live subscribers.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/PramaYudhistira/TinyGen/agent"
	"github.com/PramaYudhistira/TinyGen/chatstore"
	"github.com/chainguard-dev/clog"
)

// subscriberBuffer bounds a live feed. Slow consumers drop messages
// rather than stall a run; they can always re-read the full history
// from the store.
const subscriberBuffer = 64

// Relay persists chat messages and broadcasts them as they land.
type Relay struct {
	store *chatstore.Store

	mu   sync.RWMutex
	subs map[string]map[chan *chatstore.Message]struct{}
}

// New wraps a chat store.
func New(store *chatstore.Store) *Relay {
	return &Relay{
		store: store,
		subs:  make(map[string]map[chan *chatstore.Message]struct{}),
	}
}

// HandleEvent maps one agent event to a chat message and stores it. A
// failed insert is logged and swallowed so one bad row never stops the
// stream.
func (r *Relay) HandleEvent(ctx context.Context, ev agent.Event) {
	msg := messageFor(ev)
	r.deliver(ctx, msg)
}

// messageFor shapes an agent event as a chat message.
func messageFor(ev agent.Event) *chatstore.Message {
	msg := &chatstore.Message{
		ChatID:   ev.ChatID,
		Role:     "assistant",
		Metadata: map[string]any{},
	}
	if ev.Reflection {
		msg.Metadata["is_reflection"] = true
	}
	if ev.Tool != nil {
		msg.Content = "Using tool: " + ev.Tool.Description
		msg.IsToolUse = true
		msg.Metadata["tool_data"] = ev.Tool
		return msg
	}
	msg.Content = ev.Text
	return msg
}

// Say posts a plain assistant message to the chat. Progress updates
// and terminal error reports go through here.
func (r *Relay) Say(ctx context.Context, chatID, content string) {
	r.deliver(ctx, &chatstore.Message{
		ChatID:   chatID,
		Content:  content,
		Role:     "assistant",
		Metadata: map[string]any{},
	})
}

// SayDiff posts the staged diff, pre-truncated by the caller. The
// final flag marks the re-read after the review pass.
func (r *Relay) SayDiff(ctx context.Context, chatID, diff string, final bool) {
	heading := "📝 **Changes to be committed:**"
	metadata := map[string]any{"is_diff": true}
	if final {
		heading = "📝 **Final changes after review:**"
		metadata["is_final"] = true
	}
	r.deliver(ctx, &chatstore.Message{
		ChatID:   chatID,
		Content:  fmt.Sprintf("%s\n\n```diff\n%s\n```", heading, diff),
		Role:     "assistant",
		Metadata: metadata,
	})
}

// SayReviewStarting announces the review pass.
func (r *Relay) SayReviewStarting(ctx context.Context, chatID string) {
	r.Say(ctx, chatID, "🔍 **Reviewing changes before creating PR...**\n\nRunning a final review to ensure code quality and completeness.")
}

// SayNoChanges reports a run that ended without repository changes.
func (r *Relay) SayNoChanges(ctx context.Context, chatID string, afterStaging bool) {
	content := "I've analyzed your request but didn't need to make any changes to the repository."
	if afterStaging {
		content = "I've analyzed your request but no changes were needed."
	}
	r.Say(ctx, chatID, content)
}

// SayPR announces the created pull request.
func (r *Relay) SayPR(ctx context.Context, chatID, prURL, branch string) {
	r.deliver(ctx, &chatstore.Message{
		ChatID: chatID,
		Content: fmt.Sprintf("🎉 **Pull Request Created!**\n\n[View PR on GitHub](%s)\n\nYour changes have been pushed to `%s` and a pull request has been created.",
			prURL, branch),
		Role: "assistant",
		Metadata: map[string]any{
			"is_pr_notification": true,
			"pr_url":             prURL,
			"branch_name":        branch,
		},
	})
}

// SayError posts a terminal failure message.
func (r *Relay) SayError(ctx context.Context, chatID, errMsg string) {
	r.deliver(ctx, &chatstore.Message{
		ChatID:   chatID,
		Content:  "❌ **Something went wrong:**\n\n" + errMsg,
		Role:     "assistant",
		Metadata: map[string]any{"is_error": true},
	})
}

func (r *Relay) deliver(ctx context.Context, msg *chatstore.Message) {
	id, err := r.store.AppendMessage(ctx, msg)
	if err != nil {
		clog.FromContext(ctx).ErrorContextf(ctx, "storing message for chat %s: %v", msg.ChatID, err)
		return
	}
	msg.ID = id
	r.broadcast(msg)
}

func (r *Relay) broadcast(msg *chatstore.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs[msg.ChatID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribe returns a live feed of new messages for a chat and a
// cancel function. The feed starts at the moment of subscription;
// history comes from the store.
func (r *Relay) Subscribe(chatID string) (<-chan *chatstore.Message, func()) {
	ch := make(chan *chatstore.Message, subscriberBuffer)

	r.mu.Lock()
	if r.subs[chatID] == nil {
		r.subs[chatID] = make(map[chan *chatstore.Message]struct{})
	}
	r.subs[chatID][ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.subs[chatID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(r.subs, chatID)
			}
		}
	}
	return ch, cancel
}
