// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package rsync

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize_SendAndDelete(t *testing.T) {
	op, hash, mtime, path, ok := Normalize("send;0000000000000001;1683169200;source/test_file.txt")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if op != "+" || hash != "0000000000000001" || mtime != "1683169200" || path != "source/test_file.txt" {
		t.Errorf("got (%q, %q, %q, %q)", op, hash, mtime, path)
	}

	op, _, _, path, ok = Normalize("del.;                ;1683169200;tmp.txt")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if op != "-" || path != "tmp.txt" {
		t.Errorf("got (%q, _, _, %q)", op, path)
	}
}

func TestNormalize_DirectoryEntriesDropped(t *testing.T) {
	_, _, _, _, ok := Normalize("send;0000000000000001;1683169200;source/")
	if ok {
		t.Error("directory entries (trailing '/') should be dropped")
	}
}

func TestNormalize_UnrecognizedOpDropped(t *testing.T) {
	_, _, _, _, ok := Normalize("hf;0000000000000001;1683169200;source/a")
	if ok {
		t.Error("unrecognized rsync op should not produce a line")
	}
}

func TestNormalize_MalformedLineDropped(t *testing.T) {
	_, _, _, _, ok := Normalize("only;three;fields")
	if ok {
		t.Error("malformed line should not produce a line")
	}
}

func TestNormalizeLog_SortsAndFilters(t *testing.T) {
	raw := []string{
		"send;0000000000000002;100;b",
		"send;0000000000000001;100;a",
		"send;0000000000000001;100;dir/",
		"hf;0000000000000003;100;ignored",
		"del.;                ;100;deleted.txt",
	}

	got := NormalizeLog(raw)
	want := []string{
		"+;0000000000000001;100;a",
		"+;0000000000000002;100;b",
		"-;                ;100;deleted.txt",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NormalizeLog mismatch (-want +got):\n%s", diff)
	}
}

func TestArgs_ArchiveVsDefaultFlags(t *testing.T) {
	archiveArgs := Args([]string{"/src"}, "/dest", true)
	if !contains(archiveArgs, "--archive") {
		t.Error("archive mode should include --archive")
	}

	defaultArgs := Args([]string{"/src"}, "/dest", false)
	for _, want := range []string{"--recursive", "--copy-links", "--times", "--xattrs"} {
		if !contains(defaultArgs, want) {
			t.Errorf("default mode missing %q", want)
		}
	}
	if contains(defaultArgs, "--archive") {
		t.Error("default mode should not include --archive")
	}

	if defaultArgs[len(defaultArgs)-1] != "/dest" || defaultArgs[len(defaultArgs)-2] != "/src" {
		t.Errorf("expected sources then dest at the end, got %v", defaultArgs)
	}
}

func contains(s []string, v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}
