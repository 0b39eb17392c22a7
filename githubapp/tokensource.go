/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package githubapp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

// expirySkew forces a refresh slightly before the installation token's
// recorded expiry, so in-flight git operations never straddle it.
const expirySkew = time.Minute

// TokenSource returns an oauth2.TokenSource that mints installation access
// tokens for owner/repo on demand. Tokens are cached until near expiry; the
// app JWT and installation resolution are redone on each refresh, so an
// expired credential never escapes the source.
func (a *Authenticator) TokenSource(ctx context.Context, owner, repo string) oauth2.TokenSource {
	return &installationTokenSource{
		auth:  a,
		ctx:   ctx,
		owner: owner,
		repo:  repo,
	}
}

// InstallationClient returns a go-github client whose requests run under
// installation tokens for owner/repo, plus the token source feeding it so
// git operations can share the same credentials.
func (a *Authenticator) InstallationClient(ctx context.Context, owner, repo string) (*github.Client, oauth2.TokenSource, error) {
	ts := a.TokenSource(ctx, owner, repo)
	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	if a.baseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(a.baseURL, "/") + "/")
		if err != nil {
			return nil, nil, fmt.Errorf("parsing base URL: %w", err)
		}
		gh.BaseURL = base
	}
	return gh, ts, nil
}

type installationTokenSource struct {
	auth  *Authenticator
	ctx   context.Context
	owner string
	repo  string

	mu             sync.Mutex
	installationID int64
	cached         *oauth2.Token
}

var _ oauth2.TokenSource = (*installationTokenSource)(nil)

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.auth.now().Before(s.cached.Expiry.Add(-expirySkew)) {
		return s.cached, nil
	}

	appJWT, err := s.auth.AppToken()
	if err != nil {
		return nil, err
	}

	if s.installationID == 0 {
		id, err := s.auth.ResolveInstallation(s.ctx, appJWT, s.owner, s.repo)
		if err != nil {
			return nil, err
		}
		s.installationID = id
	}

	token, expiry, err := s.auth.InstallationToken(s.ctx, appJWT, s.installationID)
	if err != nil {
		return nil, err
	}

	s.cached = &oauth2.Token{
		AccessToken: token,
		TokenType:   "token",
		Expiry:      expiry,
	}
	return s.cached, nil
}
