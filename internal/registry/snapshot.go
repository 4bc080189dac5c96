// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package registry enumerates snapshot directories under a backup root
// and orders them chronologically.
//
// A Snapshot is a directory whose base name parses to a timestamp (see
// ParseSnapshotName). Snapshot values are immutable once constructed;
// the "should keep" decision belongs to the retention planner, which
// returns it as a side table rather than mutating the Snapshot (see
// retention.Decision).
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Snapshot is a single dated backup directory.
type Snapshot struct {
	// Directory is the absolute path to the snapshot root.
	Directory string

	// CreationTime is the instant parsed from the directory name.
	CreationTime time.Time
}

// LogPath returns the path to this snapshot's change log.
func (s Snapshot) LogPath() string {
	return filepath.Join(s.Directory, "backup.log")
}

// Name returns the snapshot directory's base name.
func (s Snapshot) Name() string {
	return filepath.Base(s.Directory)
}

// IsComplete reports whether the snapshot has a change log on disk; the
// log's contents are not parsed here. ListSnapshots does not check
// completeness: cmd/biu's dedup command logs a warning for and skips
// incomplete snapshots, and its cleanup command never removes them.
func (s Snapshot) IsComplete() bool {
	info, err := os.Stat(s.LogPath())
	return err == nil && !info.IsDir()
}

// WarnFunc receives non-fatal problems encountered while scanning the
// backup root (unparseable directory names).
type WarnFunc func(error)

// ListSnapshots scans the direct children of root. A child is
// considered iff it is a directory whose name does not start with
// ".". Parseable directories become Snapshots; unparseable ones are
// reported to warn and skipped. The result is sorted ascending by
// CreationTime, with ties broken by directory name.
func ListSnapshots(root string, warn WarnFunc) ([]Snapshot, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("registry: read backup root %s: %w", root, err)
	}

	if warn == nil {
		warn = func(error) {}
	}

	var snapshots []Snapshot
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || len(name) == 0 || name[0] == '.' {
			continue
		}

		t, err := ParseSnapshotName(name)
		if err != nil {
			warn(err)
			continue
		}

		snapshots = append(snapshots, Snapshot{
			Directory:    filepath.Join(root, name),
			CreationTime: t,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].CreationTime.Equal(snapshots[j].CreationTime) {
			return snapshots[i].CreationTime.Before(snapshots[j].CreationTime)
		}
		return snapshots[i].Directory < snapshots[j].Directory
	})

	return snapshots, nil
}
