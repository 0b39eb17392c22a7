/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	markerPrefix      = "CHAT_MESSAGE:"
	toolPayloadPrefix = "TOOL_USE_JSON:"
)

// EncodeText frames a plain text payload as a marker line.
func EncodeText(chatID, text string) string {
	return markerPrefix + chatID + ":" + text
}

// EncodeToolUse frames a tool invocation as a marker line with a JSON
// payload.
func EncodeToolUse(chatID string, tu ToolUse) (string, error) {
	data, err := json.Marshal(tu)
	if err != nil {
		return "", fmt.Errorf("encoding tool use: %w", err)
	}
	return markerPrefix + chatID + ":" + toolPayloadPrefix + string(data), nil
}

// Decode parses one stdout line. It returns false for lines that are
// not marker-framed; those are diagnostics, not chat content.
//
// A payload that announces itself as tool JSON but fails to parse is
// demoted to plain text rather than dropped, so a serialization bug on
// the agent side degrades display quality instead of losing output.
func Decode(line string) (Event, bool) {
	rest, ok := strings.CutPrefix(line, markerPrefix)
	if !ok {
		return Event{}, false
	}
	chatID, payload, ok := strings.Cut(rest, ":")
	if !ok {
		return Event{}, false
	}

	ev := Event{ChatID: chatID}
	if raw, isTool := strings.CutPrefix(payload, toolPayloadPrefix); isTool {
		var tu ToolUse
		if err := json.Unmarshal([]byte(raw), &tu); err == nil {
			ev.Tool = &tu
			return ev, true
		}
		// Keep the whole payload, prefix included, so nothing is
		// silently lost.
	}
	ev.Text = payload
	return ev, true
}
