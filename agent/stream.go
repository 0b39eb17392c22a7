/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"encoding/json"
	"strings"
)

// streamLine is one NDJSON line of the agent CLI's stream-json output.
type streamLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string         `json:"role"`
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// encodeStream converts one raw CLI output line into marker-framed
// chat lines. Only assistant messages produce output; system, result
// and user lines are diagnostics and yield nothing. textPrefix is
// prepended to plain text payloads, which lets the review pass label
// its commentary.
func encodeStream(chatID, line, textPrefix string) []string {
	var sl streamLine
	if err := json.Unmarshal([]byte(line), &sl); err != nil {
		return nil
	}
	if sl.Type != "assistant" && sl.Message.Role != "assistant" {
		return nil
	}

	var out []string
	for _, block := range sl.Message.Content {
		switch block.Type {
		case "text":
			if strings.TrimSpace(block.Text) == "" {
				continue
			}
			out = append(out, EncodeText(chatID, textPrefix+block.Text))
		case "tool_use":
			tu := Summarize(block.Name, block.ID, block.Input)
			encoded, err := EncodeToolUse(chatID, tu)
			if err != nil {
				continue
			}
			out = append(out, encoded)
		}
	}
	return out
}
