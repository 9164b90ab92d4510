package downloader_test

import (
	"path/filepath"
	"testing"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
)

func TestPathMappingRoundTrip(t *testing.T) {
	m := downloader.MappingFromConfig(config.PathMapping{RemotePath: "/data/downloads", LocalPath: "/mnt/seedbox"})
	if !m.Enabled() {
		t.Fatal("expected mapping to be enabled")
	}
	tests := []struct {
		remote string
		local  string
	}{
		{"/data/downloads", "/mnt/seedbox"},
		{"/data/downloads/Book Name", "/mnt/seedbox/Book Name"},
		{"/data/downloads/a/b.m4b", "/mnt/seedbox/a/b.m4b"},
	}
	for _, tc := range tests {
		if got := m.ToLocal(tc.remote); got != filepath.FromSlash(tc.local) {
			t.Errorf("ToLocal(%q) = %q, want %q", tc.remote, got, tc.local)
		}
		if got := m.ToRemote(tc.local); got != tc.remote {
			t.Errorf("ToRemote(%q) = %q, want %q", tc.local, got, tc.remote)
		}
	}
}

func TestPathMappingRespectsSegmentBoundary(t *testing.T) {
	m := downloader.PathMapping{Remote: "/data", Local: "/mnt"}
	if got := m.ToLocal("/database/file"); got != "/database/file" {
		t.Fatalf("prefix without separator must not map, got %q", got)
	}
	if got := m.ToLocal("/other/file"); got != "/other/file" {
		t.Fatalf("unrelated path changed: %q", got)
	}
}

func TestPathMappingDisabledIsIdentity(t *testing.T) {
	m := downloader.PathMapping{Remote: "/data"}
	if m.Enabled() {
		t.Fatal("half-configured mapping must be disabled")
	}
	if got := m.ToLocal("/data/x"); got != "/data/x" {
		t.Fatalf("unexpected mapping %q", got)
	}
}

func TestPathMappingWindowsRemote(t *testing.T) {
	m := downloader.PathMapping{Remote: `D:\Torrents`, Local: "/mnt/win"}
	if got := m.ToRemote("/mnt/win/Book/part1.mp3"); got != `D:\Torrents\Book\part1.mp3` {
		t.Fatalf("ToRemote = %q", got)
	}
}
