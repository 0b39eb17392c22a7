/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package access determines whether an authenticated user can push to a
// repository directly or must work through a fork, and creates the fork
// when one is needed.
package access

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PramaYudhistira/TinyGen/repourl"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
)

// Mode says how the user will reach the repository.
type Mode string

const (
	// Direct means the user can push branches to the repository itself.
	Direct Mode = "DIRECT"

	// ForkRequired means branches must go through a fork under the
	// user's account.
	ForkRequired Mode = "FORK_REQUIRED"
)

// Decision is the outcome of resolving a user against a repository.
type Decision struct {
	Mode Mode

	// FinalRepo is the repository that clones and pushes target. For
	// Direct access it is the original; for ForkRequired it is the fork
	// under the user's account.
	FinalRepo repourl.Target
}

// CloneURL returns the HTTPS clone URL of the repository work happens in.
func (d Decision) CloneURL() string { return d.FinalRepo.CloneURL() }

var pushPermissions = map[string]bool{
	"admin":    true,
	"maintain": true,
	"write":    true,
}

// Resolver answers push-access questions with an installation-scoped
// GitHub client.
type Resolver struct {
	client *github.Client

	forkSettleInterval time.Duration
	forkSettleTimeout  time.Duration
}

// NewResolver wraps an installation-authenticated client.
func NewResolver(client *github.Client) *Resolver {
	return &Resolver{
		client:             client,
		forkSettleInterval: 2 * time.Second,
		forkSettleTimeout:  30 * time.Second,
	}
}

// Resolve decides whether username can push to target directly. Checks
// run cheapest first and stop at the first affirmative answer. A check
// that errors is treated as a negative answer and the next one runs, so
// a missing permission API never blocks the fork path.
func (r *Resolver) Resolve(ctx context.Context, target repourl.Target, username string) (Decision, error) {
	log := clog.FromContext(ctx)

	if strings.EqualFold(target.Owner, username) {
		log.InfoContextf(ctx, "user %s owns %s, direct access", username, target)
		return Decision{Mode: Direct, FinalRepo: target}, nil
	}

	perm, resp, err := r.client.Repositories.GetPermissionLevel(ctx, target.Owner, target.Name, username)
	if err == nil && perm.GetPermission() != "" {
		if pushPermissions[perm.GetPermission()] {
			log.InfoContextf(ctx, "user %s has %s on %s, direct access", username, perm.GetPermission(), target)
			return Decision{Mode: Direct, FinalRepo: target}, nil
		}
	} else if err != nil && (resp == nil || resp.StatusCode != http.StatusNotFound) {
		log.WarnContextf(ctx, "collaborator check for %s on %s failed: %v", username, target, err)
	}

	member, _, err := r.client.Organizations.IsMember(ctx, target.Owner, username)
	if err != nil {
		log.WarnContextf(ctx, "org membership check for %s in %s failed: %v", username, target.Owner, err)
	} else if member {
		repo, _, err := r.client.Repositories.Get(ctx, target.Owner, target.Name)
		if err != nil {
			log.WarnContextf(ctx, "repo lookup for %s failed: %v", target, err)
		} else if repo.GetPermissions()["push"] {
			log.InfoContextf(ctx, "org member %s can push to %s, direct access", username, target)
			return Decision{Mode: Direct, FinalRepo: target}, nil
		}
	}

	log.InfoContextf(ctx, "user %s has no push access to %s, fork required", username, target)
	return Decision{
		Mode:      ForkRequired,
		FinalRepo: repourl.Target{Owner: username, Name: target.Name},
	}, nil
}

// EnsureFork creates (or reuses) a fork of target under username and
// waits for it to become cloneable. GitHub forks asynchronously, so a
// 202 response means the fork exists but its git data may not.
func (r *Resolver) EnsureFork(ctx context.Context, target repourl.Target, username string) (repourl.Target, error) {
	log := clog.FromContext(ctx)

	// An existing fork under the user's account is reused as is. A repo
	// of the same name that is not a fork falls through to CreateFork,
	// which resolves the collision by renaming.
	if existing, _, err := r.client.Repositories.Get(ctx, username, target.Name); err == nil && existing.GetFork() {
		log.InfoContextf(ctx, "reusing existing fork %s/%s", username, existing.GetName())
		return repourl.Target{Owner: username, Name: existing.GetName()}, nil
	}

	fork, _, err := r.client.Repositories.CreateFork(ctx, target.Owner, target.Name, nil)
	if err != nil {
		// CreateFork reports 202 Accepted as AcceptedError even though
		// the fork was created.
		if _, accepted := err.(*github.AcceptedError); !accepted {
			return repourl.Target{}, fmt.Errorf("forking %s: %w", target, err)
		}
	}

	forkTarget := repourl.Target{Owner: username, Name: target.Name}
	if fork != nil && fork.GetName() != "" {
		// GitHub renames forks that collide with an existing repo.
		forkTarget.Name = fork.GetName()
	}

	deadline := time.Now().Add(r.forkSettleTimeout)
	for {
		got, _, err := r.client.Repositories.Get(ctx, forkTarget.Owner, forkTarget.Name)
		if err == nil && got.GetDefaultBranch() != "" {
			log.InfoContextf(ctx, "fork %s is ready", forkTarget)
			return forkTarget, nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return repourl.Target{}, fmt.Errorf("fork %s never became ready: %w", forkTarget, err)
			}
			// Exists but settle window elapsed. Proceed and let the
			// clone retry loop absorb any remaining lag.
			return forkTarget, nil
		}
		select {
		case <-ctx.Done():
			return repourl.Target{}, ctx.Err()
		case <-time.After(r.forkSettleInterval):
		}
	}
}
