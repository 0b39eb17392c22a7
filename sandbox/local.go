/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
)

// scannerBuffer bounds a single output line. Agent tool events can
// carry whole file contents in one line.
const scannerBuffer = 1024 * 1024

// LocalConfig configures the process-based sandbox provider.
type LocalConfig struct {
	// BaseDir is where sandbox working directories are created. Empty
	// means the system temp directory.
	BaseDir string `env:"SANDBOX_BASE_DIR"`

	// SnapshotDir is where filesystem snapshots are written. Empty
	// means snapshots land next to BaseDir under "snapshots".
	SnapshotDir string `env:"SANDBOX_SNAPSHOT_DIR"`

	// Env is extra environment for every command, on top of the host
	// environment.
	Env []string
}

// LocalProvider runs sandboxes as plain subprocesses with per-run
// working directories. It relies on the host for isolation, which is
// fine for development and for deployments that wrap the whole server
// in a container.
type LocalProvider struct {
	cfg LocalConfig
}

// NewLocalProvider validates the configuration and prepares directories.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if cfg.BaseDir == "" {
		cfg.BaseDir = filepath.Join(os.TempDir(), "tinygen-sandboxes")
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = filepath.Join(cfg.BaseDir, "snapshots")
	}
	for _, dir := range []string{cfg.BaseDir, cfg.SnapshotDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return &LocalProvider{cfg: cfg}, nil
}

// Create builds a sandbox with a fresh working directory.
func (p *LocalProvider) Create(_ context.Context, id string) (Sandbox, error) {
	workDir, err := os.MkdirTemp(p.cfg.BaseDir, id+"-")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox workdir: %w", err)
	}
	return &localSandbox{
		id:          id,
		workDir:     workDir,
		snapshotDir: p.cfg.SnapshotDir,
		env:         p.cfg.Env,
	}, nil
}

type localSandbox struct {
	id          string
	workDir     string
	snapshotDir string
	env         []string

	mu         sync.Mutex
	terminated bool
}

func (s *localSandbox) ID() string      { return s.id }
func (s *localSandbox) WorkDir() string { return s.workDir }

func (s *localSandbox) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = s.workDir
	cmd.Env = append(os.Environ(), s.env...)
	return cmd
}

func (s *localSandbox) Exec(ctx context.Context, name string, args ...string) (string, error) {
	cmd := s.command(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (s *localSandbox) Stream(ctx context.Context, onLine, onDiagnostic func(string), name string, args ...string) (int, error) {
	cmd := s.command(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting %s: %w", name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, onLine)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, onDiagnostic)
	}()
	wg.Wait()

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("running %s: %w", name, err)
}

func scanLines(r io.Reader, fn func(string)) {
	if fn == nil {
		fn = func(string) {}
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), scannerBuffer)
	for sc.Scan() {
		fn(sc.Text())
	}
}

// Snapshot tars the working directory into the snapshot directory and
// returns the archive path.
func (s *localSandbox) Snapshot(ctx context.Context) (string, error) {
	path := filepath.Join(s.snapshotDir, s.id+".tar.gz")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating snapshot: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(s.workDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Skip anything that vanished or is not a regular file.
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.workDir, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("archiving %s: %w", s.workDir, err)
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}

	clog.FromContext(ctx).InfoContextf(ctx, "sandbox %s snapshot written to %s", s.id, path)
	return path, nil
}

func (s *localSandbox) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return nil
	}
	s.terminated = true
	if err := os.RemoveAll(s.workDir); err != nil {
		return fmt.Errorf("removing sandbox workdir: %w", err)
	}
	clog.FromContext(ctx).InfoContextf(ctx, "sandbox %s terminated", s.id)
	return nil
}
