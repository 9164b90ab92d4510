package deps

import (
	"os"
	"path/filepath"
	"testing"

	"shelfarr/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}

	missing := MissingRequired(results)
	if len(missing) != 1 || missing[0] != "Missing" {
		t.Fatalf("unexpected missing list: %v", missing)
	}
}

func TestRequirementsFollowOrganizerSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Organizer.MergeChapters = true
	reqs := Requirements(&cfg)
	if len(reqs) != 2 || reqs[0].Optional || reqs[1].Optional {
		t.Fatalf("merge enabled should require both binaries: %#v", reqs)
	}

	cfg.Organizer.MergeChapters = false
	cfg.Organizer.TagFiles = false
	reqs = Requirements(&cfg)
	if !reqs[0].Optional || !reqs[1].Optional {
		t.Fatalf("expected both optional when merging and tagging are off: %#v", reqs)
	}
}
