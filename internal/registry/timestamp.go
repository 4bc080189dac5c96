// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// snapshotNamePattern implements the grammar from the snapshot directory
// name grammar:
//
//	YYYY[-_]?MM[-_]?DD( [-_Tt] HH [-_]? MM ( [-_]? SS )? )?
//
// All fields are interpreted as local civil time; missing time fields
// default to zero.
var snapshotNamePattern = regexp.MustCompile(
	`^(\d{4})[-_]?(\d{2})[-_]?(\d{2})(?:[-_Tt](\d{2})[-_]?(\d{2})(?:[-_]?(\d{2}))?)?$`)

// UnparseableSnapshotNameError is reported (as a warning, never fatal)
// when a directory under the backup root does not match the snapshot
// name grammar.
type UnparseableSnapshotNameError struct {
	Name string
}

func (e *UnparseableSnapshotNameError) Error() string {
	return fmt.Sprintf("registry: cannot parse snapshot name %q as a date/time", e.Name)
}

// ParseSnapshotName parses a snapshot directory's base name into a local
// civil-time instant. It falls back to RFC 3339 parsing when the
// compact grammar above doesn't match. Invalid calendar values (e.g.
// month 13) fail parsing.
func ParseSnapshotName(name string) (time.Time, error) {
	m := snapshotNamePattern.FindStringSubmatch(name)
	if m == nil {
		if t, err := time.ParseInLocation(time.RFC3339, name, time.Local); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", name, time.Local); err == nil {
			return t, nil
		}
		return time.Time{}, &UnparseableSnapshotNameError{Name: name}
	}

	year := atoiMust(m[1])
	month := atoiMust(m[2])
	day := atoiMust(m[3])
	hour := atoiOr(m[4], 0)
	minute := atoiOr(m[5], 0)
	second := atoiOr(m[6], 0)

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, &UnparseableSnapshotNameError{Name: name}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
	// time.Date normalizes out-of-range values (e.g. Feb 30) instead of
	// failing, so reject anything that didn't round-trip.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, &UnparseableSnapshotNameError{Name: name}
	}
	return t, nil
}

// FormatSnapshotName formats an instant using the canonical compact
// pattern, the inverse of ParseSnapshotName for times with second == 0.
func FormatSnapshotName(t time.Time) string {
	return t.Format("2006-01-02_15-04")
}

func atoiMust(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	return atoiMust(s)
}
