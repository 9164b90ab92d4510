package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")

	content := []byte("hello world")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must be kept: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestCopyFileMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFileMode(src, dst, 0o600); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestCopyFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFile(dir, filepath.Join(dir, "out")); err == nil {
		t.Fatal("expected error copying a directory")
	}
}

func TestCopyIfNeededSkipsSameSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mp3")
	dst := filepath.Join(dir, "b.mp3")
	if err := os.WriteFile(src, []byte("1234"), 0o644); err != nil {
		t.Fatal(err)
	}

	copied, err := CopyIfNeeded(src, dst)
	if err != nil || !copied {
		t.Fatalf("first copy: copied=%v err=%v", copied, err)
	}
	copied, err = CopyIfNeeded(src, dst)
	if err != nil || copied {
		t.Fatalf("second copy should be skipped: copied=%v err=%v", copied, err)
	}

	if err := os.WriteFile(src, []byte("123456"), 0o644); err != nil {
		t.Fatal(err)
	}
	copied, err = CopyIfNeeded(src, dst)
	if err != nil || !copied {
		t.Fatalf("size change should copy: copied=%v err=%v", copied, err)
	}
}

func TestReplaceFileAndRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tmp.m4b")
	dst := filepath.Join(dir, "book.m4b")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReplaceFile(src, dst); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "new" {
		t.Fatalf("dst = %q, want new", got)
	}
	if err := RemoveIfExists(src); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
	if err := RemoveIfExists(dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("expected dst removed, got %v", err)
	}
}
