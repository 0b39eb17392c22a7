/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package githubapp

import "fmt"

// CredentialError indicates the configured GitHub App private key could not
// be parsed into a usable signing key.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("github app credential: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// InstallationNotFound indicates the GitHub App is not installed for any
// account that could be resolved for the requested repository.
type InstallationNotFound struct {
	Owner string
	Repo  string
	Err   error
}

func (e *InstallationNotFound) Error() string {
	return fmt.Sprintf("github app not installed or accessible for %s/%s: %v", e.Owner, e.Repo, e.Err)
}

func (e *InstallationNotFound) Unwrap() error { return e.Err }

// TokenExchangeError indicates the installation access-token endpoint
// returned a non-201 response. Body carries the response text verbatim for
// diagnostics.
type TokenExchangeError struct {
	InstallationID int64
	Body           string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("exchanging token for installation %d: %s", e.InstallationID, e.Body)
}
