// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package runnerfs

import (
	"fmt"
	"log/slog"
	"strings"
)

// Intent records one side effect that a DryRunRunner would have
// issued, without mutating the filesystem.
type Intent struct {
	Kind       string // "run", "link", "replace", "remove", "comment"
	Argv       []string
	StdoutPath string
	Target     string
	LinkPath   string
	Src, Dst   string
	Paths      []string
	Comment    string
}

// DryRunRunner is a Runner that never touches the filesystem. Every
// mutating call is turned into a shell-equivalent line printed via the
// logger and recorded as an Intent; tests drive it to assert which
// intents were issued and in what order.
type DryRunRunner struct {
	Logger  *slog.Logger
	Intents []Intent
}

// NewDryRunRunner constructs a dry-run recorder. A nil logger falls
// back to slog.Default().
func NewDryRunRunner(logger *slog.Logger) *DryRunRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunRunner{Logger: logger}
}

func (r *DryRunRunner) record(i Intent) {
	r.Intents = append(r.Intents, i)
}

func (r *DryRunRunner) Run(argv []string, stdoutPath string) error {
	line := strings.Join(argv, " ")
	if stdoutPath != "" {
		line += " > " + stdoutPath
	}
	r.Logger.Info("dry-run exec", slog.String("line", line))
	r.record(Intent{Kind: "run", Argv: argv, StdoutPath: stdoutPath})
	return nil
}

func (r *DryRunRunner) Link(target, linkPath string) error {
	r.Logger.Info("dry-run link", slog.String("line", fmt.Sprintf("ln -f %s %s", target, linkPath)))
	r.record(Intent{Kind: "link", Target: target, LinkPath: linkPath})
	return nil
}

func (r *DryRunRunner) Replace(src, dst string) error {
	r.Logger.Info("dry-run replace", slog.String("line", fmt.Sprintf("mv %s %s", src, dst)))
	r.record(Intent{Kind: "replace", Src: src, Dst: dst})
	return nil
}

func (r *DryRunRunner) Remove(paths ...string) error {
	r.Logger.Info("dry-run remove", slog.String("line", fmt.Sprintf("rm -r %s", strings.Join(paths, " "))))
	r.record(Intent{Kind: "remove", Paths: paths})
	return nil
}

func (r *DryRunRunner) Comment(msg string) {
	r.Logger.Info(msg)
	r.record(Intent{Kind: "comment", Comment: msg})
}

var _ Runner = (*FSRunner)(nil)
var _ Runner = (*DryRunRunner)(nil)
