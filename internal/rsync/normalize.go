// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package rsync adapts the external file-synchronization tool this
// project delegates snapshot creation to (spec.md §1, §6). It treats
// rsync as an opaque collaborator: the core never shells out to it
// directly (that belongs to cmd/biu, the CLI collaborator), but this
// package knows rsync's native log vocabulary and normalizes it into
// the op;hash;mtime;path grammar internal/synclog expects.
package rsync

import (
	"sort"
	"strings"
)

// Args returns the rsync invocation used to produce one snapshot.
// archiveMode controls whether permissions/ownership are preserved
// (--archive) or deliberately dropped in favor of --recursive
// --copy-links --times --xattrs (spec.md's source preserves content and mtimes
// but, by default, not uid/gid/permission bits, since backups are
// read by the same local user that wrote them).
func Args(sources []string, dest string, archiveMode bool) []string {
	args := []string{
		"rsync",
		"--delete",
		"--whole-file",
		"--out-format", "%o;%C;%M;%n",
		"--checksum-choice=xxh3",
	}
	if archiveMode {
		args = append(args, "--archive")
	} else {
		args = append(args, "--recursive", "--copy-links", "--times", "--xattrs")
	}
	args = append(args, sources...)
	return append(args, dest)
}

// Normalize converts one raw rsync --out-format line
// ("%o;%C;%M;%n" — operation, checksum hex, mtime, name) into the
// op;hash;mtime;path grammar from spec.md §3/§6. It reports ok=false
// for directory-only entries (trailing "/" in the name), which the
// change log never stores.
//
// rsync's native operation vocabulary is normalized per spec.md §6:
// "send" -> "+", "del." -> "-". Any other operation word is dropped
// (empty fields, ok is false), since only file writes and deletions are
// represented in the change log.
func Normalize(rawLine string) (op, hash, mtime, path string, ok bool) {
	fields := strings.SplitN(rawLine, ";", 4)
	if len(fields) != 4 {
		return "", "", "", "", false
	}
	rawOp, rawHash, rawMtime, rawPath := fields[0], fields[1], fields[2], fields[3]

	if strings.HasSuffix(rawPath, "/") {
		return "", "", "", "", false
	}

	switch strings.TrimSpace(rawOp) {
	case "send":
		op = "+"
	case "del.":
		op = "-"
		rawHash = strings.Repeat(" ", len(rawHash))
	default:
		return "", "", "", "", false
	}

	return op, rawHash, rawMtime, rawPath, true
}

// NormalizeLog normalizes a full raw rsync log (one --out-format line
// per line of input) into backup.log's final contents: only
// recognized write/delete lines, sorted line-wise (spec.md §3's
// central sort invariant, primarily by op and then by hash).
func NormalizeLog(rawLines []string) []string {
	normalized := make([]string, 0, len(rawLines))
	for _, raw := range rawLines {
		op, hash, mtime, path, ok := Normalize(raw)
		if !ok {
			continue
		}
		normalized = append(normalized, op+";"+hash+";"+mtime+";"+path)
	}
	sort.Strings(normalized)
	return normalized
}
