/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	writePreviewLimit = 500
	editStringLimit   = 50
)

type toolFormatter struct {
	description string
	icon        string
	format      func(tu *ToolUse, input map[string]any)
}

// toolFormatters shapes known tool invocations for display. Unknown
// tools get a generic entry carrying the raw input.
var toolFormatters = map[string]toolFormatter{
	"Read": {
		description: "Read file",
		icon:        "📖",
		format: func(tu *ToolUse, input map[string]any) {
			tu.Summary, _ = input["file_path"].(string)
		},
	},
	"Write": {
		description: "Wrote file",
		icon:        "✏️",
		format: func(tu *ToolUse, input map[string]any) {
			tu.Summary, _ = input["file_path"].(string)
			if content, ok := input["content"].(string); ok {
				lines := strings.Count(content, "\n") + 1
				tu.Input["content_preview"] = truncate(content, writePreviewLimit)
				tu.Input["stats"] = fmt.Sprintf("%d lines, %d characters", lines, utf8.RuneCountInString(content))
			}
		},
	},
	"Edit": {
		description: "Edited file",
		icon:        "📝",
		format: func(tu *ToolUse, input map[string]any) {
			tu.Summary, _ = input["file_path"].(string)
			if old, ok := input["old_string"].(string); ok {
				tu.Input["old_string"] = truncate(old, editStringLimit)
			}
			if new_, ok := input["new_string"].(string); ok {
				tu.Input["new_string"] = truncate(new_, editStringLimit)
			}
		},
	},
	"Bash": {
		description: "Ran command",
		icon:        "💻",
		format: func(tu *ToolUse, input map[string]any) {
			tu.Summary, _ = input["command"].(string)
		},
	},
	"Grep": {
		description: "Searched files",
		icon:        "🔍",
		format: func(tu *ToolUse, input map[string]any) {
			if pattern, ok := input["pattern"].(string); ok {
				tu.Summary = "Pattern: " + pattern
			}
			if path, ok := input["path"].(string); ok {
				tu.Input["path"] = path
			}
		},
	},
	"Glob": {
		description: "Found files",
		icon:        "🔍",
		format: func(tu *ToolUse, input map[string]any) {
			tu.Summary, _ = input["pattern"].(string)
		},
	},
	"LS": {
		description: "Listed directory",
		icon:        "📁",
		format: func(tu *ToolUse, input map[string]any) {
			tu.Summary, _ = input["path"].(string)
		},
	},
}

// Summarize converts a raw tool invocation into its display shape.
func Summarize(name, toolID string, input map[string]any) ToolUse {
	tu := ToolUse{
		Type:     "tool_use",
		ToolName: name,
		ToolID:   toolID,
		Status:   "calling",
		Input:    map[string]any{},
	}

	f, known := toolFormatters[name]
	if !known {
		tu.Description = "Using " + name
		tu.Icon = "🔧"
		tu.Summary = name
		tu.Input = input
		return tu
	}

	tu.Description = f.description
	tu.Icon = f.icon
	f.format(&tu, input)
	return tu
}

// truncate limits s to a number of characters, never splitting a
// multibyte rune.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
