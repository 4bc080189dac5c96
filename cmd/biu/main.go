// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Command biu produces deduplicated, time-stamped local backup
// snapshots and reclaims their storage through retention and
// hard-link deduplication.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Isodome/biu-back-it-up/internal/config"
	"github.com/Isodome/biu-back-it-up/internal/dedup"
	"github.com/Isodome/biu-back-it-up/internal/registry"
	"github.com/Isodome/biu-back-it-up/internal/retention"
	"github.com/Isodome/biu-back-it-up/internal/runnerfs"
	"github.com/Isodome/biu-back-it-up/internal/rsync"
	"github.com/Isodome/biu-back-it-up/internal/synclog"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "biu: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: biu <backup|cleanup|dedup> [flags]")
		os.Exit(1)
	}

	var cmdErr error
	switch os.Args[1] {
	case "backup":
		cmdErr = runBackup(os.Args[2:], cfg, logger)
	case "cleanup":
		cmdErr = runCleanup(os.Args[2:], cfg, logger)
	case "dedup":
		cmdErr = runDedup(os.Args[2:], cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "biu: unknown command %q\n", os.Args[1])
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "biu: %v\n", cmdErr)
		os.Exit(exitCodeFor(cmdErr))
	}
}

// exitCodeFor maps an error to a process exit code: validation errors
// are 1, fatal core errors (corrupt log, failed exec/link, refused
// retention) are 2.
func exitCodeFor(err error) int {
	var (
		corrupt *synclog.CorruptLogError
		execErr *runnerfs.ExecFailedError
		linkErr *runnerfs.LinkFailedError
		refused *retention.RetentionRefusedError
	)
	if errors.As(err, &corrupt) || errors.As(err, &execErr) || errors.As(err, &linkErr) || errors.As(err, &refused) {
		return 2
	}
	return 1
}

func newRunner(dryRun bool, logger *slog.Logger) runnerfs.Runner {
	if dryRun {
		return runnerfs.NewDryRunRunner(logger)
	}
	return runnerfs.NewFSRunner(logger)
}

func warnFunc(logger *slog.Logger) registry.WarnFunc {
	return func(err error) {
		logger.Warn("registry warning", slog.Any("error", err))
	}
}

// stringSlice implements flag.Value for repeatable -source flags.
type stringSlice []string

func (s *stringSlice) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runBackup(args []string, cfg config.Config, logger *slog.Logger) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	backupPath := fs.String("backup-path", cfg.BackupPath, "root directory containing all snapshots")
	tempPath := fs.String("temp-path", "", "optional staging directory; when set, rsync writes here and the finished snapshot is renamed into place")
	archive := fs.Bool("archive", cfg.ArchiveMode, "preserve permissions/ownership via rsync --archive")
	dryRun := fs.Bool("dry-run", cfg.DryRun, "log intended actions without touching the filesystem")
	var sources stringSlice
	fs.Var(&sources, "source", "source directory to back up (repeatable, required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *backupPath == "" {
		return fmt.Errorf("backup: -backup-path is required")
	}
	if info, err := os.Stat(*backupPath); err != nil || !info.IsDir() {
		return fmt.Errorf("backup: backup path does not exist: %s", *backupPath)
	}
	if len(sources) == 0 {
		return fmt.Errorf("backup: at least one -source is required")
	}

	runner := newRunner(*dryRun, logger)

	snapshots, err := registry.ListSnapshots(*backupPath, warnFunc(logger))
	if err != nil {
		return err
	}

	now := time.Now()
	name := registry.FormatSnapshotName(now)
	target := filepath.Join(*backupPath, name)
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("backup: snapshot directory already exists: %s", target)
	}

	stageDir := target
	if *tempPath != "" {
		stageDir = filepath.Join(*tempPath, name)
	}

	// Hard-link clone the previous snapshot wholesale before rsync runs,
	// so untouched files already share inodes with the prior snapshot and
	// the dedup engine's later pass is a pure optimization rather than a
	// correctness requirement.
	if len(snapshots) > 0 {
		prev := snapshots[len(snapshots)-1]
		if err := runner.Run([]string{"cp", "-al", prev.Directory, stageDir}, ""); err != nil {
			return err
		}
		if err := runner.Remove(filepath.Join(stageDir, "backup.log")); err != nil {
			return err
		}
	} else {
		if err := runner.Run([]string{"mkdir", "-p", stageDir}, ""); err != nil {
			return err
		}
	}

	rawLogPath := filepath.Join(stageDir, "."+uuid.NewString()+".rsync-raw")
	rsyncArgs := rsync.Args([]string(sources), stageDir, *archive)
	if err := runner.Run(rsyncArgs, rawLogPath); err != nil {
		return err
	}

	if *dryRun {
		runner.Comment(fmt.Sprintf("would normalize rsync output into %s", filepath.Join(stageDir, "backup.log")))
	} else {
		rawLines, err := readLines(rawLogPath)
		if err != nil {
			return fmt.Errorf("backup: read rsync output: %w", err)
		}
		normalized := rsync.NormalizeLog(rawLines)
		logData := []byte(joinLines(normalized))
		if err := os.WriteFile(filepath.Join(stageDir, "backup.log"), logData, 0o644); err != nil {
			return fmt.Errorf("backup: write backup.log: %w", err)
		}
		if err := runner.Remove(rawLogPath); err != nil {
			return err
		}
	}

	if *tempPath != "" {
		if err := runner.Replace(stageDir, target); err != nil {
			return err
		}
	}

	runner.Comment(fmt.Sprintf("backup %s complete", name))
	return nil
}

func runCleanup(args []string, cfg config.Config, logger *slog.Logger) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	backupPath := fs.String("backup-path", cfg.BackupPath, "root directory containing all snapshots")
	planStr := fs.String("retention-plan", cfg.RetentionPlan, "comma-separated D:N retention plan")
	forceDelete := fs.Int("force-delete", cfg.ForceDelete, "minimum number of snapshots to delete; the plan stops keeping snapshots once only this many are left to delete")
	dryRun := fs.Bool("dry-run", cfg.DryRun, "log intended removals without touching the filesystem")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *backupPath == "" {
		return fmt.Errorf("cleanup: -backup-path is required")
	}

	plan, err := retention.ParsePlan(*planStr)
	if err != nil {
		return err
	}

	runner := newRunner(*dryRun, logger)

	snapshots, err := registry.ListSnapshots(*backupPath, warnFunc(logger))
	if err != nil {
		return err
	}

	decision, err := retention.Apply(snapshots, plan, *forceDelete, time.Now())
	var refused *retention.RetentionRefusedError
	if errors.As(err, &refused) {
		return err
	}
	var exceeded *retention.BudgetExceededError
	if errors.As(err, &exceeded) {
		logger.Warn("retention budget exhausted before plan finished", slog.Any("error", exceeded))
	} else if err != nil {
		return err
	}

	retention.LogOutcome(logger, snapshots, decision)

	for i, s := range snapshots {
		// Incomplete snapshots are never auto-discarded by retention;
		// an interrupted backup is left for an operator to investigate
		// (spec.md §3, §7).
		if decision.ShouldKeep(i) || !s.IsComplete() {
			continue
		}
		if err := runner.Remove(s.Directory); err != nil {
			return err
		}
	}

	return nil
}

func runDedup(args []string, cfg config.Config, logger *slog.Logger) error {
	fs := flag.NewFlagSet("dedup", flag.ExitOnError)
	backupPath := fs.String("backup-path", cfg.BackupPath, "root directory containing all snapshots")
	batchSize := fs.Int("batch-size", cfg.BatchSize, "max distinct hashes held in memory per batch")
	dryRun := fs.Bool("dry-run", cfg.DryRun, "log intended hard links without touching the filesystem")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *backupPath == "" {
		return fmt.Errorf("dedup: -backup-path is required")
	}

	runner := newRunner(*dryRun, logger)

	all, err := registry.ListSnapshots(*backupPath, warnFunc(logger))
	if err != nil {
		return err
	}

	complete := make([]registry.Snapshot, 0, len(all))
	for _, s := range all {
		if s.IsComplete() {
			complete = append(complete, s)
		} else {
			logger.Warn("skipping incomplete snapshot", slog.String("snapshot", s.Name()))
		}
	}

	// Matches the original dedup_command.py's backups[:-2]: the olders
	// are every complete snapshot except the two most recent. The very
	// newest is left untouched, since it may still be mid-backup, and
	// the one before it is the dedup target.
	if len(complete) < 2 {
		runner.Comment("not enough complete snapshots to dedup")
		return nil
	}
	trimmed := complete[:len(complete)-1]
	if len(trimmed) == 0 {
		runner.Comment("not enough complete snapshots to dedup")
		return nil
	}
	newest := trimmed[len(trimmed)-1]
	olders := trimmed[:len(trimmed)-1]

	engine := dedup.NewEngine(runner, *batchSize, logger)
	return engine.Run(newest, olders)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	out := make([]byte, 0, len(lines)*64)
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return string(out)
}
