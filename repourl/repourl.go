/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package repourl parses the repository URL forms users paste into the chat
// box into an (owner, name) pair.
//
// Accepted forms:
//   - "git@github.com:owner/repo.git" (SSH)
//   - "https://github.com/owner/repo" with or without ".git"
//   - "owner/repo" (bare shorthand)
//
// All three parse to the same Target.
package repourl

import (
	"fmt"
	"net/url"
	"strings"
)

// Target identifies a GitHub repository by owner and name.
type Target struct {
	Owner string
	Name  string
}

// Parse parses a repository URL into a Target. Owner and name must both be
// non-empty after parsing, otherwise an error is returned.
func Parse(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("invalid repository URL %q: empty", raw)
	}

	var parts []string
	switch {
	case strings.HasPrefix(raw, "git@"):
		// SSH form: git@github.com:owner/repo.git
		_, path, ok := strings.Cut(raw, ":")
		if !ok {
			return Target{}, fmt.Errorf("invalid repository URL %q: missing path after host", raw)
		}
		parts = strings.Split(strings.TrimSuffix(path, ".git"), "/")

	case strings.Contains(raw, "github.com"):
		u, err := url.Parse(raw)
		if err != nil {
			return Target{}, fmt.Errorf("invalid repository URL %q: %w", raw, err)
		}
		path := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
		parts = strings.Split(path, "/")

	default:
		// Bare shorthand: owner/repo
		parts = strings.Split(strings.TrimSuffix(raw, ".git"), "/")
	}

	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Target{}, fmt.Errorf("invalid repository URL %q: expected owner/repo", raw)
	}

	return Target{Owner: parts[0], Name: parts[1]}, nil
}

// String returns the "owner/name" form.
func (t Target) String() string {
	return t.Owner + "/" + t.Name
}

// CloneURL returns the HTTPS clone URL for the target.
func (t Target) CloneURL() string {
	return fmt.Sprintf("https://github.com/%s/%s.git", t.Owner, t.Name)
}

// HTMLURL returns the browser URL for the target.
func (t Target) HTMLURL() string {
	return fmt.Sprintf("https://github.com/%s/%s", t.Owner, t.Name)
}
