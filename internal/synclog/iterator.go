// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package synclog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Iterator is a resumable, filterable line iterator over a single
// snapshot's change log. It opens the file lazily on first use, caches
// at most one peeked entry, and can be Suspended to release its file
// handle without losing its place.
//
// An Iterator is not safe for concurrent use; the dedup engine holds
// one per snapshot, each owned by a single goroutine-free run (spec.md §5).
type Iterator struct {
	snapshotDir  string
	snapshotName string
	logPath      string
	filter       Op // zero value means "no filter"
	hasFilter    bool

	file   *os.File
	reader *bufio.Reader
	offset int64
	lineNo int

	cached    *Entry
	hasCached bool
	atEOF     bool
}

// NewIterator constructs an iterator over snapshotDir's backup.log. If
// filter is non-zero, only lines whose op matches filter are yielded.
func NewIterator(snapshotDir string, filter Op) *Iterator {
	return &Iterator{
		snapshotDir:  snapshotDir,
		snapshotName: filepath.Base(snapshotDir),
		logPath:      filepath.Join(snapshotDir, "backup.log"),
		filter:       filter,
		hasFilter:    filter != 0,
	}
}

// Peek returns the next matching entry without consuming it. It
// returns (nil, nil) at end of log, and does so idempotently once
// reached.
func (it *Iterator) Peek() (*Entry, error) {
	if it.hasCached {
		return it.cached, nil
	}
	if it.atEOF {
		return nil, nil
	}

	e, err := it.advance()
	if err != nil {
		return nil, err
	}
	it.cached = e
	it.hasCached = true
	if e == nil {
		it.atEOF = true
	}
	return e, nil
}

// Next returns the next matching entry, consuming it, or (nil, nil) at
// end of log.
func (it *Iterator) Next() (*Entry, error) {
	if it.hasCached {
		e := it.cached
		it.cached = nil
		it.hasCached = false
		return e, nil
	}
	if it.atEOF {
		return nil, nil
	}

	e, err := it.advance()
	if err != nil {
		return nil, err
	}
	if e == nil {
		it.atEOF = true
	}
	return e, nil
}

// Suspend records the current byte offset and closes the underlying
// file handle. A subsequent Peek/Next reopens the file and seeks back
// to that offset. Any cached Peek value survives suspension.
func (it *Iterator) Suspend() error {
	if it.file == nil {
		return nil
	}
	return it.closeKeepingOffset()
}

// Close releases the file handle. Further calls after Close are a
// no-op, and any subsequent Peek/Next will reopen the file (matching
// the behavior of Suspend; callers that want iteration to truly end
// should simply stop calling Next).
func (it *Iterator) Close() error {
	if it.file == nil {
		return nil
	}
	return it.closeKeepingOffset()
}

func (it *Iterator) closeKeepingOffset() error {
	pos, err := it.file.Seek(0, io.SeekCurrent)
	if err == nil {
		// Account for bytes buffered-but-unread by the bufio.Reader.
		pos -= int64(it.reader.Buffered())
	}
	f := it.file
	it.file = nil
	it.reader = nil
	closeErr := f.Close()
	if err != nil {
		return err
	}
	it.offset = pos
	return closeErr
}

func (it *Iterator) ensureOpen() error {
	if it.file != nil {
		return nil
	}
	f, err := os.Open(it.logPath)
	if err != nil {
		return fmt.Errorf("synclog: open %s: %w", it.logPath, err)
	}
	if it.offset > 0 {
		if _, err := f.Seek(it.offset, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("synclog: seek %s: %w", it.logPath, err)
		}
	}
	it.file = f
	it.reader = bufio.NewReader(f)
	return nil
}

// advance reads forward until it finds a line matching the filter,
// parses it, and returns it. It returns (nil, nil) at true EOF.
func (it *Iterator) advance() (*Entry, error) {
	if err := it.ensureOpen(); err != nil {
		return nil, err
	}

	for {
		line, err := it.reader.ReadString('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, fmt.Errorf("synclog: read %s: %w", it.logPath, err)
		}
		it.lineNo++

		trimmed := trimNewline(line)
		if trimmed == "" {
			if err == io.EOF {
				return nil, nil
			}
			continue
		}

		if it.hasFilter && Op(trimmed[0]) != it.filter {
			if err == io.EOF {
				return nil, nil
			}
			continue
		}

		op, hash, hasHash, mtime, path, perr := parseLine(it.snapshotName, it.lineNo, trimmed)
		if perr != nil {
			return nil, perr
		}

		return &Entry{
			Op:      op,
			Hash:    hash,
			HasHash: hasHash,
			Mtime:   mtime,
			Path:    filepath.Join(it.snapshotDir, path),
		}, nil
	}
}

func trimNewline(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	n = len(s)
	if n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
