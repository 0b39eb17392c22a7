/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package githubapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
)

// ResolveInstallation finds the installation ID covering owner/repo.
//
// It asks the repo-scoped installation endpoint first. When that 404s (the
// app may be installed on the user's account rather than the repo owner's),
// it lists all installations and scans for a case-insensitive account-login
// match on owner, falling back to the first listed installation on the
// assumption of a single personal install.
func (a *Authenticator) ResolveInstallation(ctx context.Context, appJWT, owner, repo string) (int64, error) {
	log := clog.FromContext(ctx)

	gh, err := a.client(appJWT)
	if err != nil {
		return 0, err
	}

	inst, resp, err := gh.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err == nil {
		log.Infof("Found repo-scoped installation %d for %s/%s", inst.GetID(), owner, repo)
		return inst.GetID(), nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return 0, &InstallationNotFound{Owner: owner, Repo: repo, Err: err}
	}

	log.Infof("No repo-scoped installation for %s/%s, listing all installations", owner, repo)
	installations, _, err := gh.Apps.ListInstallations(ctx, &github.ListOptions{PerPage: 100})
	if err != nil {
		return 0, &InstallationNotFound{Owner: owner, Repo: repo, Err: err}
	}
	if len(installations) == 0 {
		return 0, &InstallationNotFound{Owner: owner, Repo: repo, Err: errors.New("no installations listed")}
	}

	for _, in := range installations {
		if strings.EqualFold(in.GetAccount().GetLogin(), owner) {
			log.Infof("Found installation %d for account %s", in.GetID(), in.GetAccount().GetLogin())
			return in.GetID(), nil
		}
	}

	// Single personal installation is the common case for individual users.
	first := installations[0]
	log.Infof("No account match for %s, using first installation %d (%s)",
		owner, first.GetID(), first.GetAccount().GetLogin())
	return first.GetID(), nil
}

// InstallationToken exchanges the app JWT for an installation access token.
// Anything but a 201 from the token endpoint is a TokenExchangeError carrying
// the response text.
func (a *Authenticator) InstallationToken(ctx context.Context, appJWT string, installationID int64) (string, time.Time, error) {
	gh, err := a.client(appJWT)
	if err != nil {
		return "", time.Time{}, err
	}

	token, resp, err := gh.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		// The full error text keeps the status and response detail.
		return "", time.Time{}, &TokenExchangeError{InstallationID: installationID, Body: err.Error()}
	}
	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, &TokenExchangeError{
			InstallationID: installationID,
			Body:           fmt.Sprintf("unexpected status %s", resp.Status),
		}
	}

	return token.GetToken(), token.GetExpiresAt().Time, nil
}

// InstallationInfo describes whether the app is installed for an account.
type InstallationInfo struct {
	Installed      bool   `json:"installed"`
	InstallationID int64  `json:"installation_id,omitempty"`
	Account        string `json:"account,omitempty"`
}

// CheckInstallation reports whether the app is installed for the given
// account login. It backs the read-only installation check endpoint.
func (a *Authenticator) CheckInstallation(ctx context.Context, username string) (InstallationInfo, error) {
	appJWT, err := a.AppToken()
	if err != nil {
		return InstallationInfo{}, err
	}

	gh, err := a.client(appJWT)
	if err != nil {
		return InstallationInfo{}, err
	}

	installations, _, err := gh.Apps.ListInstallations(ctx, &github.ListOptions{PerPage: 100})
	if err != nil {
		return InstallationInfo{}, fmt.Errorf("listing installations: %w", err)
	}

	for _, in := range installations {
		if strings.EqualFold(in.GetAccount().GetLogin(), username) {
			return InstallationInfo{
				Installed:      true,
				InstallationID: in.GetID(),
				Account:        in.GetAccount().GetLogin(),
			}, nil
		}
	}
	return InstallationInfo{}, nil
}
