// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package config supplies defaults for cmd/biu's flags from the
// environment (or a .env file): a struct of typed fields, package-level
// defaults, best-effort .env discovery, then validation that fails
// fast rather than letting a bad value surface later as a confusing
// runtime error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Isodome/biu-back-it-up/internal/dedup"
	"github.com/Isodome/biu-back-it-up/internal/retention"
)

// Config holds flag defaults cmd/biu falls back to when a flag is left
// unset on the command line.
type Config struct {
	BackupPath    string
	RetentionPlan string
	ForceDelete   int
	BatchSize     int
	DryRun        bool
	ArchiveMode   bool
}

const (
	defaultForceDelete = 0
	// defaultDryRun matches biu.py's argparse default for -n/--dry_run:
	// true, so an operator must opt in to real side effects.
	defaultDryRun     = true
	defaultArchiveMode = false
)

// Load reads defaults from environment variables, best-effort loading
// a .env file first so `go run ./cmd/biu` works without manual
// `source`. BIU_BACKUP_PATH is the only setting with no built-in
// default; leaving it empty is valid, since cmd/biu also accepts
// -backup-path directly.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		BackupPath:    strings.TrimSpace(os.Getenv("BIU_BACKUP_PATH")),
		RetentionPlan: firstNonEmpty(os.Getenv("BIU_RETENTION_PLAN"), retention.DefaultPlanString),
		ForceDelete:   defaultForceDelete,
		BatchSize:     dedup.DefaultBatchSize,
		DryRun:        defaultDryRun,
		ArchiveMode:   defaultArchiveMode,
	}

	if v := strings.TrimSpace(os.Getenv("BIU_FORCE_DELETE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("config: invalid BIU_FORCE_DELETE %q", v)
		}
		cfg.ForceDelete = n
	}

	if v := strings.TrimSpace(os.Getenv("BIU_BATCH_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: invalid BIU_BATCH_SIZE %q", v)
		}
		cfg.BatchSize = n
	}

	if v := strings.TrimSpace(os.Getenv("BIU_DRY_RUN")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid BIU_DRY_RUN %q", v)
		}
		cfg.DryRun = b
	}

	if v := strings.TrimSpace(os.Getenv("BIU_ARCHIVE_MODE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid BIU_ARCHIVE_MODE %q", v)
		}
		cfg.ArchiveMode = b
	}

	if _, err := retention.ParsePlan(cfg.RetentionPlan); err != nil {
		return Config{}, fmt.Errorf("config: BIU_RETENTION_PLAN: %w", err)
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
