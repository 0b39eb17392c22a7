/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package publisher

import "fmt"

// CloneError means the repository could not be cloned after retries.
type CloneError struct {
	URL string
	Err error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("cloning %s: %v", e.URL, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// CommitError means staged changes could not be committed.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("committing changes: %v", e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// PushError means the branch could not be pushed. It is fatal; there
// is no PR without a pushed branch.
type PushError struct {
	Branch string
	Err    error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("pushing branch %s: %v", e.Branch, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// PullRequestError means PR creation failed and no PR URL could be
// recovered from the failure.
type PullRequestError struct {
	Err error
}

func (e *PullRequestError) Error() string {
	return fmt.Sprintf("creating pull request: %v", e.Err)
}

func (e *PullRequestError) Unwrap() error { return e.Err }
