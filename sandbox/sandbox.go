/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package sandbox provides the isolated environment a coding run
// executes in. Each run gets its own sandbox with a private working
// directory; the sandbox is terminated when the run ends, after a
// filesystem snapshot is captured for debugging.
package sandbox

import "context"

// Sandbox is one isolated execution environment.
type Sandbox interface {
	// ID identifies the sandbox, usually the chat ID of the run it
	// serves.
	ID() string

	// WorkDir is the absolute path commands run in. Repository clones
	// go under this directory.
	WorkDir() string

	// Exec runs a command to completion in WorkDir and returns its
	// combined standard output. A non-zero exit is an error carrying
	// the command's stderr.
	Exec(ctx context.Context, name string, args ...string) (string, error)

	// Stream runs a command in WorkDir, invoking onLine for every line
	// of standard output as it arrives. Standard error lines go to
	// onDiagnostic. Returns the process exit code.
	Stream(ctx context.Context, onLine, onDiagnostic func(string), name string, args ...string) (int, error)

	// Snapshot captures the sandbox filesystem for later inspection
	// and returns a reference to the captured image.
	Snapshot(ctx context.Context) (string, error)

	// Terminate releases the sandbox. Safe to call more than once.
	Terminate(ctx context.Context) error
}

// Provider creates sandboxes.
type Provider interface {
	Create(ctx context.Context, id string) (Sandbox, error)
}
