// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package runnerfs is the side-effect abstraction both the dedup
// engine and the backup/cleanup commands issue filesystem mutations
// through. Real and dry-run implementations share the Runner
// interface so tests can assert on issued intents without touching
// disk (spec.md §4.6, §9).
package runnerfs

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// Runner is the side-effect interface. Every mutating operation has an
// observable intent; in dry-run mode none of them touch the
// filesystem.
type Runner interface {
	// Run executes an external command. If stdoutPath is non-empty, the
	// command's stdout is redirected to that file.
	Run(argv []string, stdoutPath string) error

	// Link replaces linkPath with a hard link to target, atomically.
	Link(target, linkPath string) error

	// Replace atomically renames src to dst.
	Replace(src, dst string) error

	// Remove removes each path, recursively for directories, ignoring
	// missing ones.
	Remove(paths ...string) error

	// Comment records a structured log line, always emitted regardless
	// of dry-run mode.
	Comment(msg string)
}

// ExecFailedError reports a non-zero exit from an external command.
type ExecFailedError struct {
	Argv   []string
	Exit   int
	Stderr string
}

func (e *ExecFailedError) Error() string {
	return fmt.Sprintf("runnerfs: command %v failed with exit %d: %s", e.Argv, e.Exit, e.Stderr)
}

// LinkFailedError reports a failed hard-link/rename sequence.
type LinkFailedError struct {
	Target string
	Link   string
	Cause  error
}

func (e *LinkFailedError) Error() string {
	return fmt.Sprintf("runnerfs: link %s -> %s failed: %v", e.Link, e.Target, e.Cause)
}

func (e *LinkFailedError) Unwrap() error { return e.Cause }

// FSRunner is the real, mutating implementation of Runner.
type FSRunner struct {
	Logger *slog.Logger
}

// NewFSRunner constructs a real runner. A nil logger falls back to
// slog.Default().
func NewFSRunner(logger *slog.Logger) *FSRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSRunner{Logger: logger}
}

func (r *FSRunner) Run(argv []string, stdoutPath string) error {
	if len(argv) == 0 {
		return fmt.Errorf("runnerfs: empty argv")
	}
	r.Logger.Info("exec", slog.Any("argv", argv))

	cmd := exec.Command(argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if stdoutPath != "" {
		out, err := os.Create(stdoutPath)
		if err != nil {
			return fmt.Errorf("runnerfs: create %s: %w", stdoutPath, err)
		}
		defer out.Close()
		cmd.Stdout = out
	}

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return &ExecFailedError{Argv: argv, Exit: exitCode, Stderr: stderr.String()}
	}
	return nil
}

// Link creates a hard link to target under a fresh temporary name in
// linkPath's directory, then atomically renames it over linkPath. On
// any error the temp name is removed.
func (r *FSRunner) Link(target, linkPath string) error {
	dir := filepath.Dir(linkPath)
	tmp := filepath.Join(dir, "."+uuid.NewString()+".biu-tmp")

	r.Logger.Info("link", slog.String("target", target), slog.String("link", linkPath))

	if err := os.Link(target, tmp); err != nil {
		return &LinkFailedError{Target: target, Link: linkPath, Cause: err}
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return &LinkFailedError{Target: target, Link: linkPath, Cause: err}
	}
	return nil
}

func (r *FSRunner) Replace(src, dst string) error {
	r.Logger.Info("replace", slog.String("src", src), slog.String("dst", dst))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("runnerfs: replace %s -> %s: %w", src, dst, err)
	}
	return nil
}

func (r *FSRunner) Remove(paths ...string) error {
	for _, p := range paths {
		r.Logger.Info("remove", slog.String("path", p))
		if err := os.RemoveAll(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("runnerfs: remove %s: %w", p, err)
		}
	}
	return nil
}

func (r *FSRunner) Comment(msg string) {
	r.Logger.Info(msg)
}
