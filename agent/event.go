/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package agent drives the coding agent inside a sandbox and turns its
// output into chat events.
//
// The agent process frames everything meant for the user as marker
// lines on stdout:
//
//	CHAT_MESSAGE:<chat_id>:<payload>
//
// A payload starting with TOOL_USE_JSON: carries a structured tool
// invocation; anything else is plain assistant text. Lines without the
// marker are process diagnostics and never reach the user.
package agent

// Event is one decoded agent output destined for the chat.
type Event struct {
	ChatID string

	// Text is the plain message payload. Empty when Tool is set.
	Text string

	// Tool is set for structured tool invocations.
	Tool *ToolUse

	// Reflection marks events produced by the review pass.
	Reflection bool
}

// ToolUse describes one tool invocation by the agent, shaped for
// display.
type ToolUse struct {
	Type        string         `json:"type"`
	ToolName    string         `json:"tool_name"`
	ToolID      string         `json:"tool_id"`
	Status      string         `json:"status"`
	Description string         `json:"description"`
	Icon        string         `json:"icon"`
	Summary     string         `json:"summary,omitempty"`
	Input       map[string]any `json:"input"`
}
