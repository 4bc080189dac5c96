// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package dedup implements the hash-sorted streaming merge of the
// newest snapshot's change log against each older snapshot's log,
// bounded-memory batching by hash range, verification of candidate
// equality by content comparison, and issuance of hard-link
// replacements (spec.md §4.5, the engine §2 calls "the heart").
package dedup

import (
	"github.com/Isodome/biu-back-it-up/internal/synclog"
)

// DefaultBatchSize is the number of distinct hash keys held in memory
// per batch.
const DefaultBatchSize = 5000

// Key is the dedup grouping key: (hash, mtime). Mtime is included so
// two distinct files that collide on the 64-bit hash but differ in
// mtime are not batched together before content verification (spec.md
// §4.5, §9).
type Key struct {
	Hash  uint64
	Mtime string
}

func dedupKey(e *synclog.Entry) Key {
	return Key{Hash: e.Hash, Mtime: e.Mtime}
}

// Batch is a contiguous, hash-disjoint slice of the newest log: a map
// from dedup key to the list of entries sharing that key, plus the
// inclusive hash range covered. Because the log is hash-sorted,
// successive batches from the same Batcher are hash-disjoint and
// monotonically increasing.
type Batch struct {
	Entries map[Key][]*synclog.Entry
	MinHash uint64
	MaxHash uint64
}

// Batcher is a small state machine pulling batches out of the newest
// snapshot's write-filtered iterator. It is finite and not
// restartable.
type Batcher struct {
	iter      *synclog.Iterator
	batchSize int
	done      bool
}

// NewBatcher wraps iter (which should already be filtered to
// synclog.OpWrite) into a batch emitter yielding groups of at most
// batchSize distinct hashes at a time. Entries sharing a hash but not an
// mtime stay in the same batch under separate keys, so a batch can hold
// more than batchSize keys.
func NewBatcher(iter *synclog.Iterator, batchSize int) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Batcher{iter: iter, batchSize: batchSize}
}

// Next produces the next batch, or (nil, false, nil) once the
// underlying log is exhausted.
func (b *Batcher) Next() (*Batch, bool, error) {
	if b.done {
		return nil, false, nil
	}

	first, err := b.iter.Peek()
	if err != nil {
		return nil, false, err
	}
	if first == nil {
		b.done = true
		return nil, false, nil
	}

	entries := make(map[Key][]*synclog.Entry)
	minHash := first.Hash
	maxHash := first.Hash

	currentHash := first.Hash
	distinctKeys := 0

	for {
		next, err := b.iter.Peek()
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			break
		}

		if next.Hash != currentHash {
			distinctKeys++
			if distinctKeys >= b.batchSize {
				break
			}
			currentHash = next.Hash
		}

		if next.Hash > maxHash {
			maxHash = next.Hash
		}

		entry, err := b.iter.Next()
		if err != nil {
			return nil, false, err
		}
		k := dedupKey(entry)
		entries[k] = append(entries[k], entry)
	}

	b.done, err = b.peekExhausted()
	if err != nil {
		return nil, false, err
	}

	return &Batch{Entries: entries, MinHash: minHash, MaxHash: maxHash}, true, nil
}

func (b *Batcher) peekExhausted() (bool, error) {
	next, err := b.iter.Peek()
	if err != nil {
		return false, err
	}
	return next == nil, nil
}
