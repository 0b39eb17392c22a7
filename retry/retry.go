/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package retry provides bounded exponential-backoff retry for transient
// failures, such as cloning a fork that GitHub has not finished provisioning.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config configures retry behavior for an operation.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// BaseBackoff is the initial backoff duration, doubled after each failure.
	BaseBackoff time.Duration
	// MaxBackoff caps the computed backoff. Zero means uncapped.
	MaxBackoff time.Duration
	// MaxJitter is the maximum random jitter added to each backoff.
	MaxJitter time.Duration
}

// Validate checks that the configuration has valid values.
func (c Config) Validate() error {
	if c.BaseBackoff < 0 {
		return errors.New("base backoff cannot be negative")
	}
	if c.MaxBackoff < 0 {
		return errors.New("max backoff cannot be negative")
	}
	if c.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// CloneConfig returns the retry policy for git clones: three attempts with
// exponential backoff starting at two seconds. GitHub intermittently returns
// 503s for repositories that exist but are still provisioning (fresh forks in
// particular), and those resolve within a few seconds.
func CloneConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// Do executes fn with exponential backoff. Only errors classified as
// retryable by isRetryable are retried; any other error returns immediately.
func Do[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		if !isRetryable(lastErr) {
			return result, lastErr
		}

		if attempt >= attempts {
			break
		}

		backoff := cfg.BaseBackoff << (attempt - 1)
		if cfg.MaxBackoff > 0 {
			backoff = min(backoff, cfg.MaxBackoff)
		}

		var jitter time.Duration
		if cfg.MaxJitter > 0 {
			if n, err := rand.Int(rand.Reader, big.NewInt(int64(cfg.MaxJitter))); err == nil {
				jitter = time.Duration(n.Int64())
			}
		}

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt).
			With("max_attempts", attempts).
			With("backoff", backoff+jitter).
			With("error", lastErr.Error()).
			Warn("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	return result, fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}
