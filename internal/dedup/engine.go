// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"log/slog"

	"github.com/Isodome/biu-back-it-up/internal/compare"
	"github.com/Isodome/biu-back-it-up/internal/registry"
	"github.com/Isodome/biu-back-it-up/internal/runnerfs"
	"github.com/Isodome/biu-back-it-up/internal/synclog"
)

// Engine runs the newest-vs-olders streaming merge described in
// spec.md §4.5 against a set of snapshots.
type Engine struct {
	BatchSize int
	Runner    runnerfs.Runner
	Logger    *slog.Logger
}

// NewEngine constructs an Engine with the given runner. A nil logger
// falls back to slog.Default(); batchSize <= 0 falls back to
// DefaultBatchSize.
func NewEngine(runner runnerfs.Runner, batchSize int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{BatchSize: batchSize, Runner: runner, Logger: logger}
}

// Run deduplicates newest against olders (chronological order, oldest
// first). Both newest and each of olders must be complete snapshots
// (registry.Snapshot.IsComplete); incomplete snapshots must be filtered
// out by the caller (spec.md §3: "incomplete snapshots are reported
// and skipped").
func (e *Engine) Run(newest registry.Snapshot, olders []registry.Snapshot) error {
	newIter := synclog.NewIterator(newest.Directory, synclog.OpWrite)
	defer newIter.Close()

	oldIters := make([]*synclog.Iterator, len(olders))
	for i, o := range olders {
		oldIters[i] = synclog.NewIterator(o.Directory, synclog.OpWrite)
	}
	defer func() {
		for _, it := range oldIters {
			it.Close()
		}
	}()

	e.Logger.Info("dedup starting",
		slog.String("newest", newest.Name()),
		slog.Int("older_count", len(olders)))

	batcher := NewBatcher(newIter, e.BatchSize)
	for {
		batch, ok, err := batcher.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		if err := e.processBatch(batch, oldIters); err != nil {
			return err
		}
	}

	return nil
}

// processBatch runs one batch's hash range against every old
// snapshot's iterator in turn, then resolves whatever is left as
// new-content-only duplicates within the newest snapshot itself.
func (e *Engine) processBatch(batch *Batch, oldIters []*synclog.Iterator) error {
	for _, oldIter := range oldIters {
		if err := e.scanOldAgainstBatch(oldIter, batch); err != nil {
			return err
		}
	}

	return e.resolveRemainder(batch)
}

// scanOldAgainstBatch advances one old snapshot's iterator across
// batch's hash range, catching up on hashes below the range, testing
// hashes inside the range against the batch map, and suspending the
// iterator (closing its handle while retaining its offset) once the
// range has been crossed, to stay under the file-descriptor limit
// (spec.md §4.1, §4.5, §5).
func (e *Engine) scanOldAgainstBatch(oldIter *synclog.Iterator, batch *Batch) error {
	defer oldIter.Suspend()

	for {
		peeked, err := oldIter.Peek()
		if err != nil {
			return err
		}
		if peeked == nil || peeked.Hash > batch.MaxHash {
			return nil
		}

		oldEntry, err := oldIter.Next()
		if err != nil {
			return err
		}

		if oldEntry.Hash < batch.MinHash {
			continue // catch-up: below this batch's range, no action
		}

		// Two lookups feed the same comparison pass: the exact dedup key
		// (hash, mtime) catches entries straight from the new log; the
		// bare-hash carry-over bucket catches leftovers a previous old
		// entry with the same hash (but a different mtime) already
		// tested and failed to match (spec.md §9, Open Question
		// resolution: reinsertion is keyed by hash alone).
		exactKey := dedupKey(oldEntry)
		carryKey := Key{Hash: oldEntry.Hash}

		var candidates []*synclog.Entry
		if exact, ok := batch.Entries[exactKey]; ok {
			candidates = append(candidates, exact...)
			delete(batch.Entries, exactKey)
		}
		if carryKey != exactKey {
			if carry, ok := batch.Entries[carryKey]; ok {
				candidates = append(candidates, carry...)
				delete(batch.Entries, carryKey)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		paths := make([]string, len(candidates))
		for i, c := range candidates {
			paths[i] = c.Path
		}

		result, err := compare.FindDuplicatesOf(oldEntry.Path, paths)
		if err != nil {
			return err
		}

		for _, dup := range result.Dups {
			if err := e.Runner.Link(oldEntry.Path, dup); err != nil {
				return err
			}
		}

		// Reinsert non-duplicates keyed by bare hash (not dedup key) so
		// a later colliding old entry can still be compared against
		// them (spec.md §9, Open Question resolution).
		if len(result.NonDups) > 0 {
			byPath := make(map[string]*synclog.Entry, len(candidates))
			for _, c := range candidates {
				byPath[c.Path] = c
			}
			survivors := make([]*synclog.Entry, 0, len(result.NonDups))
			for _, p := range result.NonDups {
				survivors = append(survivors, byPath[p])
			}
			batch.Entries[carryKey] = append(batch.Entries[carryKey], survivors...)
		}
	}
}

// resolveRemainder handles whatever is left in the batch map after
// every old snapshot has been scanned: content never seen in any
// older snapshot. Entries sharing a key with more than one path are
// grouped by actual byte content and, within each equivalence class of
// size >= 2, the tail is linked to the head.
func (e *Engine) resolveRemainder(batch *Batch) error {
	for _, entries := range batch.Entries {
		if len(entries) < 2 {
			continue
		}

		paths := make([]string, len(entries))
		for i, en := range entries {
			paths[i] = en.Path
		}

		groups, err := compare.GroupDuplicates(paths)
		if err != nil {
			return err
		}

		for _, group := range groups {
			if len(group) < 2 {
				continue
			}
			head := group[0]
			for _, tail := range group[1:] {
				if err := e.Runner.Link(head, tail); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
