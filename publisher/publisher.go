/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package publisher takes a repository from clone to pull request:
// clone, work branch, staging, commit, push and PR creation.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PramaYudhistira/TinyGen/repourl"
	"github.com/PramaYudhistira/TinyGen/retry"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v75/github"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	// diffLimit bounds the diff shown in chat.
	diffLimit          = 10000
	diffTruncationMark = "\n\n... (diff truncated)"

	commitPromptLimit = 200
	titlePromptLimit  = 60

	baseBranch = "main"

	botName  = "tinygen[bot]"
	botEmail = "tinygen[bot]@users.noreply.github.com"

	// GitHub ignores the username when the password is an installation
	// token.
	gitAuthUsername = "unused-when-using-access-tokens"
)

// ErrNothingToCommit means staging looked dirty but the commit turned
// out empty. Callers treat it as a clean no-change outcome.
var ErrNothingToCommit = errors.New("nothing to commit")

// BranchName builds a work branch name from the chat ID. The random
// suffix keeps names unique even when two runs of the same chat start
// within the same second.
func BranchName(chatID string) string {
	short := chatID
	if len(short) > 8 {
		short = short[:8]
	}
	entropy := uuid.NewString()[:4]
	return fmt.Sprintf("tinygen-%s-%d-%s", short, time.Now().Unix(), entropy)
}

// CommitMessage builds the commit message from the user prompt and
// chat ID.
func CommitMessage(prompt, chatID string) string {
	return fmt.Sprintf("Apply changes from Claude AI assistant\n\nPrompt: %s...\n\nChat ID: %s",
		clip(prompt, commitPromptLimit, ""), chatID)
}

// TruncateDiff caps a diff for display and marks the cut. The limit
// counts characters, not bytes, so a multibyte rune never gets split.
func TruncateDiff(diff string) string {
	return clip(diff, diffLimit, diffTruncationMark)
}

func clip(s string, limit int, mark string) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + mark
}

// Publisher performs the git and pull request operations of a run. The
// token source must yield installation tokens scoped to the target
// repository.
type Publisher struct {
	client      *github.Client
	tokenSource oauth2.TokenSource
}

// New returns a Publisher using the given installation-scoped client
// and token source.
func New(client *github.Client, ts oauth2.TokenSource) *Publisher {
	return &Publisher{client: client, tokenSource: ts}
}

func (p *Publisher) auth() (*githttp.BasicAuth, error) {
	token, err := p.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	return &githttp.BasicAuth{
		Username: gitAuthUsername,
		Password: token.AccessToken,
	}, nil
}

// cloneRetryable matches the transient failures GitHub throws while a
// fresh fork settles.
func cloneRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "503") || strings.Contains(msg, "Service unavailable")
}

// Clone clones the repository into dir, retrying transient failures.
func (p *Publisher) Clone(ctx context.Context, dir, cloneURL string) (*git.Repository, error) {
	clog.FromContext(ctx).InfoContextf(ctx, "cloning %s into %s", cloneURL, dir)

	auth, err := p.auth()
	if err != nil {
		return nil, &CloneError{URL: cloneURL, Err: err}
	}

	repo, err := retry.Do(ctx, retry.CloneConfig(), "clone", cloneRetryable,
		func() (*git.Repository, error) {
			return git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
				URL:  cloneURL,
				Auth: auth,
			})
		})
	if err != nil {
		return nil, &CloneError{URL: cloneURL, Err: err}
	}
	return repo, nil
}

// CheckoutBranch creates the work branch and switches to it.
func (p *Publisher) CheckoutBranch(repo *git.Repository, branch string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	}); err != nil {
		return fmt.Errorf("creating branch %s: %w", branch, err)
	}
	return nil
}

// StageAll stages every change in the worktree and reports whether
// anything is staged.
func (p *Publisher) StageAll(repo *git.Repository) (bool, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("getting worktree: %w", err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return false, fmt.Errorf("staging changes: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("reading status: %w", err)
	}
	return !status.IsClean(), nil
}

// Commit commits the staged changes. An empty commit comes back as
// ErrNothingToCommit so callers can report a clean no-change run.
func (p *Publisher) Commit(repo *git.Repository, message string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return &CommitError{Err: err}
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  botName,
			Email: botEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) || strings.Contains(err.Error(), "nothing to commit") {
			return ErrNothingToCommit
		}
		return &CommitError{Err: err}
	}
	return nil
}

// Push pushes the work branch to origin with upstream tracking.
func (p *Publisher) Push(ctx context.Context, repo *git.Repository, branch string) error {
	auth, err := p.auth()
	if err != nil {
		return &PushError{Branch: branch, Err: err}
	}

	ref := plumbing.NewBranchReferenceName(branch)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref.String(), ref.String()))
	clog.FromContext(ctx).InfoContextf(ctx, "pushing %s", refSpec)

	if err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return &PushError{Branch: branch, Err: err}
	}
	return nil
}

// PRTitle builds the pull request title from the user prompt.
func PRTitle(prompt string) string {
	return fmt.Sprintf("Tinygen AI: %s...", clip(prompt, titlePromptLimit, ""))
}

// PRBody builds the pull request body.
func PRBody(prompt, chatID, branch string) string {
	return fmt.Sprintf(`This PR was created by Tinygen AI assistant.

**Prompt**: %s

**Chat ID**: %s
**Branch**: %s

---
*Generated by TinyGen AI Assistant*`, prompt, chatID, branch)
}

// CreatePR opens a pull request for the pushed branch against main.
//
// GitHub sometimes reports a failure whose message carries the URL of
// a PR that was in fact created, typically when one already exists for
// the branch. That URL is salvaged and the run counts as a success;
// the second return value reports the salvage.
func (p *Publisher) CreatePR(ctx context.Context, target repourl.Target, branch, prompt, chatID string) (string, bool, error) {
	pr, _, err := p.client.PullRequests.Create(ctx, target.Owner, target.Name, &github.NewPullRequest{
		Title: github.Ptr(PRTitle(prompt)),
		Body:  github.Ptr(PRBody(prompt, chatID, branch)),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(baseBranch),
	})
	if err != nil {
		if url := salvagePRURL(err.Error()); url != "" {
			clog.FromContext(ctx).WarnContextf(ctx, "PR creation reported an error but yielded %s", url)
			return url, true, nil
		}
		return "", false, &PullRequestError{Err: err}
	}
	return pr.GetHTMLURL(), false, nil
}

// salvagePRURL pulls the first github.com URL out of an error message.
func salvagePRURL(msg string) string {
	idx := strings.Index(msg, "https://github.com")
	if idx < 0 {
		return ""
	}
	url := msg[idx:]
	if end := strings.IndexAny(url, " \n\t\"'),"); end >= 0 {
		url = url[:end]
	}
	return url
}
