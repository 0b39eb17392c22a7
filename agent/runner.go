/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PramaYudhistira/TinyGen/prompts"
	"github.com/PramaYudhistira/TinyGen/sandbox"
	"github.com/chainguard-dev/clog"
)

const (
	initialMaxTurns    = 50
	reflectionMaxTurns = 20
	permissionMode     = "acceptEdits"

	// diagnosticTail bounds how much stderr is kept for error reports.
	diagnosticTail = 20
)

var allowedTools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob", "LS"}

// AgentProcessError means the agent process failed outright: it exited
// non-zero or produced no chat output at all. Runs do not retry it.
type AgentProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *AgentProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("agent process failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("agent process failed with exit code %d: %s", e.ExitCode, e.Stderr)
}

// Config configures the agent runner.
type Config struct {
	// Command is the agent CLI binary.
	Command string `env:"AGENT_COMMAND, default=claude"`

	// Model is passed to the CLI for both passes.
	Model string `env:"AGENT_MODEL, default=claude-sonnet-4-20250514"`
}

// Runner executes agent passes inside a sandbox.
type Runner struct {
	cfg Config
}

// NewRunner returns a Runner for the given configuration.
func NewRunner(cfg Config) *Runner {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	return &Runner{cfg: cfg}
}

type pass struct {
	systemPrompt string
	maxTurns     int
	textPrefix   string
	reflection   bool
}

// Run executes the initial coding pass against the repository cloned
// into the sandbox working directory, emitting every decoded chat
// event.
func (r *Runner) Run(ctx context.Context, sb sandbox.Sandbox, chatID, prompt string, emit func(Event)) error {
	return r.run(ctx, sb, chatID, prompt, pass{
		systemPrompt: prompts.Initial,
		maxTurns:     initialMaxTurns,
	}, emit)
}

// Reflect executes the review pass. Its events carry the Reflection
// flag and its text payloads are labeled as review commentary.
func (r *Runner) Reflect(ctx context.Context, sb sandbox.Sandbox, chatID, originalPrompt string, emit func(Event)) error {
	return r.run(ctx, sb, chatID, prompts.ReflectionRequest(originalPrompt), pass{
		systemPrompt: prompts.Reflection,
		maxTurns:     reflectionMaxTurns,
		textPrefix:   prompts.ReviewTextPrefix,
		reflection:   true,
	}, emit)
}

func (r *Runner) run(ctx context.Context, sb sandbox.Sandbox, chatID, prompt string, p pass, emit func(Event)) error {
	log := clog.FromContext(ctx)

	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--model", r.cfg.Model,
		"--permission-mode", permissionMode,
		"--max-turns", strconv.Itoa(p.maxTurns),
		"--allowedTools", strings.Join(allowedTools, ","),
		"--system-prompt", p.systemPrompt,
		"-p", prompt,
	}

	var eventCount int
	handle := func(ev Event) {
		ev.Reflection = p.reflection
		eventCount++
		emit(ev)
	}

	onLine := func(line string) {
		// Marker-framed lines pass through; raw CLI stream lines are
		// converted first. Everything else is a diagnostic.
		if ev, ok := Decode(line); ok {
			// Stdout is untrusted: anything the agent runs in the repo
			// can print marker lines. Only this run's chat ID may emit.
			if ev.ChatID != chatID {
				log.WarnContextf(ctx, "dropping marker line for chat %q during run for chat %q", ev.ChatID, chatID)
				return
			}
			handle(ev)
			return
		}
		for _, framed := range encodeStream(chatID, line, p.textPrefix) {
			if ev, ok := Decode(framed); ok {
				handle(ev)
			}
		}
	}

	var diagnostics []string
	onDiagnostic := func(line string) {
		log.WarnContextf(ctx, "agent stderr: %s", line)
		diagnostics = append(diagnostics, line)
		if len(diagnostics) > diagnosticTail {
			diagnostics = diagnostics[1:]
		}
	}

	exitCode, err := sb.Stream(ctx, onLine, onDiagnostic, r.cfg.Command, args...)
	if err != nil {
		return fmt.Errorf("launching agent: %w", err)
	}
	if exitCode != 0 {
		return &AgentProcessError{ExitCode: exitCode, Stderr: strings.Join(diagnostics, "\n")}
	}
	if eventCount == 0 {
		return &AgentProcessError{ExitCode: exitCode, Stderr: "agent produced no output"}
	}

	log.InfoContextf(ctx, "agent pass finished with %d events for chat %s", eventCount, chatID)
	return nil
}
