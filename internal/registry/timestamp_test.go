// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"
	"time"
)

func TestParseSnapshotName_CompactForms(t *testing.T) {
	tests := []struct {
		name string
		want time.Time
	}{
		{"2023-05-04_03-00", time.Date(2023, 5, 4, 3, 0, 0, 0, time.Local)},
		{"2023-05-04_03-00-15", time.Date(2023, 5, 4, 3, 0, 15, 0, time.Local)},
		{"20230504", time.Date(2023, 5, 4, 0, 0, 0, 0, time.Local)},
		{"2023_05_04T03_00", time.Date(2023, 5, 4, 3, 0, 0, 0, time.Local)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSnapshotName(tt.name)
			if err != nil {
				t.Fatalf("ParseSnapshotName(%q) returned error: %v", tt.name, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseSnapshotName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestParseSnapshotName_ISOFallback(t *testing.T) {
	got, err := ParseSnapshotName("2023-05-04T03:00:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2023, 5, 4, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseSnapshotName_Unparseable(t *testing.T) {
	tests := []string{
		"not-a-date",
		"2023-13-04",  // invalid month
		"2023-02-30",  // invalid day, doesn't round-trip
		"lost+found",
		"",
	}
	for _, name := range tests {
		if _, err := ParseSnapshotName(name); err == nil {
			t.Errorf("ParseSnapshotName(%q) expected an error, got none", name)
		}
	}
}

// Timestamp parser law (spec.md §8): parse(fmt(t)) == t for every t
// representable by the canonical pattern.
func TestTimestampParserRoundTrip(t *testing.T) {
	times := []time.Time{
		time.Date(2023, 5, 4, 3, 0, 0, 0, time.Local),
		time.Date(1999, 12, 31, 23, 59, 0, 0, time.Local),
		time.Date(2030, 1, 1, 0, 0, 0, 0, time.Local),
	}

	for _, want := range times {
		name := FormatSnapshotName(want)
		got, err := ParseSnapshotName(name)
		if err != nil {
			t.Fatalf("ParseSnapshotName(%q) returned error: %v", name, err)
		}
		if !got.Equal(want) {
			t.Errorf("round-trip mismatch: fmt(%v) = %q, parse(...) = %v", want, name, got)
		}
	}
}
