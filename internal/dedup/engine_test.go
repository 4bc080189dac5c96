// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Isodome/biu-back-it-up/internal/registry"
	"github.com/Isodome/biu-back-it-up/internal/runnerfs"
	"github.com/Isodome/biu-back-it-up/internal/synclog"
)

func mkSnapshot(t *testing.T, dir string, files map[string]string, logLines ...string) registry.Snapshot {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	data := ""
	for _, l := range logLines {
		data += l + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "backup.log"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return registry.Snapshot{Directory: dir}
}

// S1 (spec.md §8): a file unchanged since an older snapshot is hard
// linked to that snapshot's copy instead of kept as a second copy.
func TestEngine_LinksIdenticalContentAcrossSnapshots(t *testing.T) {
	root := t.TempDir()
	old := mkSnapshot(t, filepath.Join(root, "old"),
		map[string]string{"file_old.txt": "payload"},
		synclog.FormatLine(synclog.OpWrite, 111, true, "100", "file_old.txt"))
	newest := mkSnapshot(t, filepath.Join(root, "new"),
		map[string]string{"file_new.txt": "payload"},
		synclog.FormatLine(synclog.OpWrite, 111, true, "100", "file_new.txt"))

	runner := runnerfs.NewDryRunRunner(nil)
	engine := NewEngine(runner, DefaultBatchSize, nil)

	if err := engine.Run(newest, []registry.Snapshot{old}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(runner.Intents) != 1 {
		t.Fatalf("expected 1 intent, got %d: %+v", len(runner.Intents), runner.Intents)
	}
	intent := runner.Intents[0]
	wantTarget := filepath.Join(old.Directory, "file_old.txt")
	wantLink := filepath.Join(newest.Directory, "file_new.txt")
	if intent.Kind != "link" || intent.Target != wantTarget || intent.LinkPath != wantLink {
		t.Errorf("intent = %+v, want link %s -> %s", intent, wantTarget, wantLink)
	}
}

// S2 (spec.md §8): a file renamed but otherwise unchanged (same hash,
// same mtime, different path) is still recognized and linked.
func TestEngine_RenameAcrossSnapshots(t *testing.T) {
	root := t.TempDir()
	old := mkSnapshot(t, filepath.Join(root, "old"),
		map[string]string{"original_name.txt": "stable content"},
		synclog.FormatLine(synclog.OpWrite, 222, true, "500", "original_name.txt"))
	newest := mkSnapshot(t, filepath.Join(root, "new"),
		map[string]string{"renamed.txt": "stable content"},
		synclog.FormatLine(synclog.OpWrite, 222, true, "500", "renamed.txt"))

	runner := runnerfs.NewDryRunRunner(nil)
	engine := NewEngine(runner, DefaultBatchSize, nil)

	if err := engine.Run(newest, []registry.Snapshot{old}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(runner.Intents) != 1 || runner.Intents[0].Kind != "link" {
		t.Fatalf("expected a single link intent, got %+v", runner.Intents)
	}
	if runner.Intents[0].LinkPath != filepath.Join(newest.Directory, "renamed.txt") {
		t.Errorf("linked the wrong path: %+v", runner.Intents[0])
	}
}

// S6 (spec.md §8): two new-snapshot files share a hash (and mtime) with
// an older snapshot's file but only one is byte-identical to it. Only
// the genuine duplicate gets linked; the colliding one survives as its
// own file.
func TestEngine_HashCollisionDefense(t *testing.T) {
	root := t.TempDir()
	old := mkSnapshot(t, filepath.Join(root, "old"),
		map[string]string{"old.txt": "AAAA"},
		synclog.FormatLine(synclog.OpWrite, 555, true, "100", "old.txt"))
	newest := mkSnapshot(t, filepath.Join(root, "new"),
		map[string]string{"same.txt": "AAAA", "diff.txt": "BBBB"},
		synclog.FormatLine(synclog.OpWrite, 555, true, "100", "same.txt"),
		synclog.FormatLine(synclog.OpWrite, 555, true, "100", "diff.txt"))

	runner := runnerfs.NewDryRunRunner(nil)
	engine := NewEngine(runner, DefaultBatchSize, nil)

	if err := engine.Run(newest, []registry.Snapshot{old}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(runner.Intents) != 1 {
		t.Fatalf("expected exactly 1 link intent, got %d: %+v", len(runner.Intents), runner.Intents)
	}
	want := filepath.Join(newest.Directory, "same.txt")
	if runner.Intents[0].LinkPath != want {
		t.Errorf("linked %s, want %s (diff.txt must survive unlinked)", runner.Intents[0].LinkPath, want)
	}
}

// Content that never appeared in any older snapshot, but is duplicated
// more than once within the newest snapshot itself, is still
// deduplicated against its own first occurrence.
func TestEngine_DeduplicatesWithinNewestWhenNoOlderMatch(t *testing.T) {
	root := t.TempDir()
	newest := mkSnapshot(t, filepath.Join(root, "new"),
		map[string]string{"first.txt": "shared", "second.txt": "shared", "third.txt": "shared"},
		synclog.FormatLine(synclog.OpWrite, 999, true, "100", "first.txt"),
		synclog.FormatLine(synclog.OpWrite, 999, true, "100", "second.txt"),
		synclog.FormatLine(synclog.OpWrite, 999, true, "100", "third.txt"))

	runner := runnerfs.NewDryRunRunner(nil)
	engine := NewEngine(runner, DefaultBatchSize, nil)

	if err := engine.Run(newest, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(runner.Intents) != 2 {
		t.Fatalf("expected 2 link intents (head kept, two tails linked), got %d: %+v", len(runner.Intents), runner.Intents)
	}
	for _, intent := range runner.Intents {
		if intent.Kind != "link" || intent.Target != filepath.Join(newest.Directory, "first.txt") {
			t.Errorf("unexpected intent: %+v", intent)
		}
	}
}
