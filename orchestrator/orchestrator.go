/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package orchestrator runs the full coding pipeline for one chat:
// resolve access, fork if needed, clone into a sandbox, run the agent
// and its review pass, then commit, push and open a pull request.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/PramaYudhistira/TinyGen/access"
	"github.com/PramaYudhistira/TinyGen/agent"
	"github.com/PramaYudhistira/TinyGen/chatstore"
	"github.com/PramaYudhistira/TinyGen/githubapp"
	"github.com/PramaYudhistira/TinyGen/publisher"
	"github.com/PramaYudhistira/TinyGen/relay"
	"github.com/PramaYudhistira/TinyGen/repourl"
	"github.com/PramaYudhistira/TinyGen/sandbox"
	"github.com/chainguard-dev/clog"
)

// Config configures run execution.
type Config struct {
	// RunTimeout bounds one complete run, agent passes included.
	RunTimeout time.Duration `env:"RUN_TIMEOUT, default=30m"`

	// SandboxTimeout bounds the clone-only sandbox preparation, which
	// has no agent pass and finishes much sooner than a run.
	SandboxTimeout time.Duration `env:"SANDBOX_TIMEOUT, default=10m"`
}

// Request identifies one coding run.
type Request struct {
	RepoURL  string `json:"repo_url"`
	Username string `json:"user_github_username"`
	ChatID   string `json:"chat_id"`
	Prompt   string `json:"prompt"`
}

// Result is the terminal state of a run, also returned over the API.
type Result struct {
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
	RepoURL     string `json:"repo_url,omitempty"`
	PRURL       string `json:"pr_url,omitempty"`
	BranchName  string `json:"branch_name,omitempty"`
	Forked      bool   `json:"forked"`
	URLSalvaged bool   `json:"url_salvaged,omitempty"`
}

// cloneURL is indirected so tests can substitute local fixture repos.
var cloneURL = func(d access.Decision) string { return d.CloneURL() }

// Orchestrator wires the run pipeline together.
type Orchestrator struct {
	cfg      Config
	auth     *githubapp.Authenticator
	provider sandbox.Provider
	runner   *agent.Runner
	relay    *relay.Relay
	store    *chatstore.Store
}

// New assembles an Orchestrator from its parts.
func New(cfg Config, auth *githubapp.Authenticator, provider sandbox.Provider,
	runner *agent.Runner, rl *relay.Relay, store *chatstore.Store) *Orchestrator {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	if cfg.SandboxTimeout <= 0 {
		cfg.SandboxTimeout = 10 * time.Minute
	}
	return &Orchestrator{
		cfg:      cfg,
		auth:     auth,
		provider: provider,
		runner:   runner,
		relay:    rl,
		store:    store,
	}
}

// Run executes the whole pipeline for one request. It never panics the
// caller: every failure comes back as a Result with status "error",
// after a terminal chat message and a chat status update. The sandbox
// is always snapshotted and terminated, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res Result) {
	log := clog.FromContext(ctx)
	parent := ctx

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	target, err := repourl.Parse(req.RepoURL)
	if err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}

	if err := o.store.UpsertChat(ctx, &chatstore.Chat{
		ID:       req.ChatID,
		RepoURL:  target.HTMLURL(),
		Username: req.Username,
		Prompt:   req.Prompt,
		Status:   chatstore.StatusRunning,
	}); err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}

	gh, ts, err := o.auth.InstallationClient(ctx, target.Owner, target.Name)
	if err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}

	resolver := access.NewResolver(gh)
	decision, err := resolver.Resolve(ctx, target, req.Username)
	if err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}
	if decision.Mode == access.ForkRequired {
		forkTarget, err := resolver.EnsureFork(ctx, target, req.Username)
		if err != nil {
			return o.fail(parent, req.ChatID, res, err)
		}
		decision.FinalRepo = forkTarget
	}
	res.Forked = decision.Mode == access.ForkRequired
	res.RepoURL = decision.FinalRepo.HTMLURL()

	sb, err := o.provider.Create(ctx, req.ChatID)
	if err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}
	defer func() {
		// Teardown runs even when the run timed out; the snapshot is
		// taken unconditionally so failed runs can be inspected.
		teardownCtx := context.WithoutCancel(parent)
		if id, err := sb.Snapshot(teardownCtx); err != nil {
			log.ErrorContextf(teardownCtx, "snapshotting sandbox %s: %v", sb.ID(), err)
		} else {
			res.SnapshotID = id
			if err := o.store.SetSnapshotID(teardownCtx, req.ChatID, id); err != nil {
				log.ErrorContextf(teardownCtx, "recording snapshot for chat %s: %v", req.ChatID, err)
			}
		}
		if err := sb.Terminate(teardownCtx); err != nil {
			log.ErrorContextf(teardownCtx, "terminating sandbox %s: %v", sb.ID(), err)
		}
	}()

	pub := publisher.New(gh, ts)
	repo, err := pub.Clone(ctx, sb.WorkDir(), cloneURL(decision))
	if err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}

	branch := publisher.BranchName(req.ChatID)
	res.BranchName = branch
	if err := pub.CheckoutBranch(repo, branch); err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}

	if err := o.runner.Run(ctx, sb, req.ChatID, req.Prompt, func(ev agent.Event) {
		o.relay.HandleEvent(ctx, ev)
	}); err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}

	// Keep agent scratch files out of the commit.
	if _, err := sb.Exec(ctx, "sh", "-c",
		"mkdir -p .agent-metadata && echo '*' > .agent-metadata/.gitignore"); err != nil {
		log.WarnContextf(ctx, "preparing agent metadata dir: %v", err)
	}

	dirty, err := pub.StageAll(repo)
	if err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}
	if !dirty {
		log.InfoContextf(ctx, "no changes for chat %s", req.ChatID)
		o.relay.SayNoChanges(ctx, req.ChatID, false)
		return o.succeed(ctx, req.ChatID, res, chatstore.StatusNoChange)
	}

	initialDiff := o.stagedDiff(ctx, sb)
	if initialDiff != "" {
		o.relay.SayDiff(ctx, req.ChatID, publisher.TruncateDiff(initialDiff), false)
	}

	o.relay.SayReviewStarting(ctx, req.ChatID)
	if err := o.runner.Reflect(ctx, sb, req.ChatID, req.Prompt, func(ev agent.Event) {
		o.relay.HandleEvent(ctx, ev)
	}); err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}

	// Pick up anything the review pass touched before comparing diffs.
	if _, err := pub.StageAll(repo); err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}
	if finalDiff := o.stagedDiff(ctx, sb); finalDiff != initialDiff {
		o.relay.SayDiff(ctx, req.ChatID, publisher.TruncateDiff(finalDiff), true)
	}

	err = pub.Commit(repo, publisher.CommitMessage(req.Prompt, req.ChatID))
	if errors.Is(err, publisher.ErrNothingToCommit) {
		log.InfoContextf(ctx, "empty commit for chat %s, treating as no change", req.ChatID)
		o.relay.SayNoChanges(ctx, req.ChatID, true)
		return o.succeed(ctx, req.ChatID, res, chatstore.StatusNoChange)
	}
	if err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}

	if err := pub.Push(ctx, repo, branch); err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}

	prURL, salvaged, err := pub.CreatePR(ctx, decision.FinalRepo, branch, req.Prompt, req.ChatID)
	if err != nil {
		return o.fail(parent, req.ChatID, res, err)
	}
	res.PRURL = prURL
	res.URLSalvaged = salvaged

	o.relay.SayPR(ctx, req.ChatID, prURL, branch)
	return o.succeed(ctx, req.ChatID, res, chatstore.StatusCompleted)
}

// SandboxResult is the outcome of preparing a sandbox ahead of a run.
type SandboxResult struct {
	Status       string `json:"status"`
	SnapshotID   string `json:"snapshot_id,omitempty"`
	ForkURL      string `json:"fork_url,omitempty"`
	OriginalRepo string `json:"original_repo,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CreateSandbox resolves access for a repository, forks when the user
// cannot push directly, clones into a fresh sandbox and snapshots it.
// The snapshot proves the repository is reachable before a run starts.
func (o *Orchestrator) CreateSandbox(ctx context.Context, chatID, repoURL, username string) SandboxResult {
	log := clog.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SandboxTimeout)
	defer cancel()

	sandboxErr := func(err error) SandboxResult {
		log.ErrorContextf(ctx, "creating sandbox for chat %s: %v", chatID, err)
		return SandboxResult{Status: "error", Error: err.Error()}
	}

	target, err := repourl.Parse(repoURL)
	if err != nil {
		return sandboxErr(err)
	}

	gh, ts, err := o.auth.InstallationClient(ctx, target.Owner, target.Name)
	if err != nil {
		return sandboxErr(err)
	}

	resolver := access.NewResolver(gh)
	decision, err := resolver.Resolve(ctx, target, username)
	if err != nil {
		return sandboxErr(err)
	}
	if decision.Mode == access.ForkRequired {
		forkTarget, err := resolver.EnsureFork(ctx, target, username)
		if err != nil {
			return sandboxErr(err)
		}
		decision.FinalRepo = forkTarget
	}

	sb, err := o.provider.Create(ctx, chatID)
	if err != nil {
		return sandboxErr(err)
	}
	defer func() {
		if err := sb.Terminate(context.WithoutCancel(ctx)); err != nil {
			log.ErrorContextf(ctx, "terminating sandbox %s: %v", sb.ID(), err)
		}
	}()

	pub := publisher.New(gh, ts)
	if _, err := pub.Clone(ctx, sb.WorkDir(), cloneURL(decision)); err != nil {
		return sandboxErr(err)
	}

	snapshotID, err := sb.Snapshot(ctx)
	if err != nil {
		return sandboxErr(err)
	}

	res := SandboxResult{
		Status:       "success",
		SnapshotID:   snapshotID,
		OriginalRepo: target.String(),
	}
	if decision.Mode == access.ForkRequired {
		res.ForkURL = decision.FinalRepo.HTMLURL()
	}
	return res
}

// stagedDiff reads the staged patch text. Diff rendering failures are
// cosmetic, so they degrade to an empty diff instead of failing the
// run.
func (o *Orchestrator) stagedDiff(ctx context.Context, sb sandbox.Sandbox) string {
	out, err := sb.Exec(ctx, "git", "diff", "--staged")
	if err != nil {
		clog.FromContext(ctx).WarnContextf(ctx, "reading staged diff: %v", err)
		return ""
	}
	return out
}

func (o *Orchestrator) succeed(ctx context.Context, chatID string, res Result, chatStatus string) Result {
	res.Status = "success"
	if err := o.store.FinishRun(context.WithoutCancel(ctx), chatID, chatstore.RunOutcome{
		Status:     chatStatus,
		RepoURL:    res.RepoURL,
		PRURL:      res.PRURL,
		BranchName: res.BranchName,
	}); err != nil {
		clog.FromContext(ctx).ErrorContextf(ctx, "recording result for chat %s: %v", chatID, err)
	}
	return res
}

func (o *Orchestrator) fail(ctx context.Context, chatID string, res Result, err error) Result {
	ctx = context.WithoutCancel(ctx)
	clog.FromContext(ctx).ErrorContextf(ctx, "run for chat %s failed: %v", chatID, err)

	o.relay.SayError(ctx, chatID, err.Error())
	if serr := o.store.FinishRun(ctx, chatID, chatstore.RunOutcome{
		Status:     chatstore.StatusError,
		RepoURL:    res.RepoURL,
		BranchName: res.BranchName,
		Error:      err.Error(),
	}); serr != nil {
		clog.FromContext(ctx).ErrorContextf(ctx, "recording failure for chat %s: %v", chatID, serr)
	}
	res.Status = "error"
	res.Error = err.Error()
	return res
}
