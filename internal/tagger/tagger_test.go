package tagger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bogem/id3v2"

	"shelfarr/internal/logging"
	"shelfarr/internal/media/ffmpeg"
	"shelfarr/internal/tagger"
)

type copyRunner struct {
	args [][]string
	err  error
}

func (r *copyRunner) Run(_ context.Context, args []string, _ func(ffmpeg.Progress)) error {
	r.args = append(r.args, append([]string(nil), args...))
	if r.err != nil {
		return r.err
	}
	src := args[slices.Index(args, "-i")+1]
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(args[len(args)-1], append(data, []byte("-tagged")...), 0o644)
}

var sampleMeta = tagger.Metadata{
	Title:    "The Long Book",
	Author:   "Ann Author",
	Narrator: "Ned Narrator",
	Year:     "2021",
	ASIN:     "B00TEST123",
	Series:   "Saga",
}

func TestMetadataPairsOmitEmpty(t *testing.T) {
	pairs := tagger.Metadata{Title: "T", Author: "A"}.Pairs()
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.Key)
	}
	want := []string{"title", "album", "artist", "album_artist", "genre"}
	if !slices.Equal(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	args := sampleMeta.Args()
	if !slices.Contains(args, "composer=Ned Narrator") || !slices.Contains(args, "comment=ASIN: B00TEST123") {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestTagMP3WritesID3Frames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "01.mp3")
	if err := os.WriteFile(path, []byte{0xff, 0xfb, 0x90, 0x00, 0, 0, 0, 0}, 0o644); err != nil {
		t.Fatal(err)
	}
	tg := tagger.New(nil, logging.NewNop())
	cover := []byte{0xff, 0xd8, 0xff, 0xd9}
	if err := tg.TagFile(context.Background(), path, sampleMeta, tagger.Track{Number: 1, Total: 3, Title: "Arrival"}, cover); err != nil {
		t.Fatalf("TagFile: %v", err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tag.Close()
	if tag.Title() != "Arrival" || tag.Album() != "The Long Book" || tag.Artist() != "Ann Author" {
		t.Fatalf("unexpected tags: %q %q %q", tag.Title(), tag.Album(), tag.Artist())
	}
	if got := tag.GetTextFrame("TRCK").Text; got != "1/3" {
		t.Fatalf("track frame = %q", got)
	}
	if pics := tag.GetFrames(tag.CommonID("Attached picture")); len(pics) != 1 {
		t.Fatalf("expected one cover frame, got %d", len(pics))
	}
}

func TestRewriteReplacesFileOnSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.m4b")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &copyRunner{}
	if err := tagger.New(runner, logging.NewNop()).TagFile(context.Background(), path, sampleMeta, tagger.Track{}, nil); err != nil {
		t.Fatalf("TagFile: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "audio-tagged" {
		t.Fatalf("file not replaced: %q", data)
	}
	joined := strings.Join(runner.args[0], " ")
	if !strings.Contains(joined, "-c copy") || !strings.Contains(joined, "+use_metadata_tags") || !strings.Contains(joined, "asin=B00TEST123") {
		t.Fatalf("unexpected args: %s", joined)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func TestRewriteFailureKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.flac")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &copyRunner{err: errors.New("ffmpeg exploded")}
	if err := tagger.New(runner, logging.NewNop()).TagFile(context.Background(), path, sampleMeta, tagger.Track{}, nil); err == nil {
		t.Fatal("expected error")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "audio" {
		t.Fatalf("original modified: %q", data)
	}
}
