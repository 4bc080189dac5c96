// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package compare implements byte-exact content comparison between
// files. It deliberately does not hash: the dedup engine groups
// candidates by a 64-bit hash it trusts from the change log, but never
// issues a hard link without first verifying the candidate bytes
// match exactly here. This is the hash-collision defense spec.md §4.4
// and §9 call for.
package compare

import (
	"bytes"
	"io"
	"os"
)

// bufSize is both the streaming comparison chunk size and the
// small-file threshold for the whole-file-in-memory fast path.
const bufSize = 10 * 1024

// ContentsIdentical streams both files in fixed-size buffers, returning
// true iff both reach end simultaneously with every buffer equal.
func ContentsIdentical(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()

	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, bufSize)
	bufB := make([]byte, bufSize)

	for {
		na, erra := io.ReadFull(fa, bufA)
		nb, errb := io.ReadFull(fb, bufB)
		if erra != nil && erra != io.EOF && erra != io.ErrUnexpectedEOF {
			return false, erra
		}
		if errb != nil && errb != io.EOF && errb != io.ErrUnexpectedEOF {
			return false, errb
		}

		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}

		aDone := erra == io.EOF || erra == io.ErrUnexpectedEOF
		bDone := errb == io.EOF || errb == io.ErrUnexpectedEOF
		if aDone != bDone {
			return false, nil
		}
		if aDone {
			return true, nil
		}
	}
}

// BytesEqualFile returns true iff reading path yields exactly buf and
// no more.
func BytesEqualFile(buf []byte, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	got := make([]byte, len(buf)+1)
	n, err := io.ReadFull(f, got)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}
	if n != len(buf) {
		return false, nil
	}
	return bytes.Equal(got[:n], buf), nil
}

// DuplicatesResult partitions a list of candidates against a hero file.
type DuplicatesResult struct {
	Dups    []string
	NonDups []string
}

// FindDuplicatesOf compares hero against each of candidates, returning
// which candidates are byte-identical to hero and which are not. hero
// must be a regular file; if not, every candidate is returned as a
// non-duplicate. Input order is preserved within each partition.
//
// As an optimization, if there is more than one candidate and hero's
// size is within the small-file threshold, hero is read into memory
// once and compared against each candidate with BytesEqualFile;
// otherwise each candidate is compared stream-wise.
func FindDuplicatesOf(hero string, candidates []string) (DuplicatesResult, error) {
	info, err := os.Stat(hero)
	if err != nil || !info.Mode().IsRegular() {
		return DuplicatesResult{NonDups: candidates}, nil
	}

	var heroBytes []byte
	if len(candidates) > 1 && info.Size() <= bufSize {
		heroBytes, err = os.ReadFile(hero)
		if err != nil {
			return DuplicatesResult{}, err
		}
	}

	result := DuplicatesResult{}
	for _, candidate := range candidates {
		var identical bool
		var err error
		if heroBytes != nil {
			identical, err = BytesEqualFile(heroBytes, candidate)
		} else {
			identical, err = ContentsIdentical(hero, candidate)
		}
		if err != nil {
			return DuplicatesResult{}, err
		}
		if identical {
			result.Dups = append(result.Dups, candidate)
		} else {
			result.NonDups = append(result.NonDups, candidate)
		}
	}
	return result, nil
}

// GroupDuplicates partitions candidates into equivalence classes by
// byte-for-byte content, repeatedly pivoting on the first remaining
// element. It is O(n^2) in the worst case, which is acceptable because
// inputs are pre-filtered to share a 64-bit hash.
func GroupDuplicates(candidates []string) ([][]string, error) {
	var groups [][]string
	remaining := candidates

	for len(remaining) > 0 {
		pivot := remaining[0]
		res, err := FindDuplicatesOf(pivot, remaining[1:])
		if err != nil {
			return nil, err
		}
		group := append([]string{pivot}, res.Dups...)
		groups = append(groups, group)
		remaining = res.NonDups
	}

	return groups, nil
}
