package tagger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2"

	"shelfarr/internal/fileutil"
	"shelfarr/internal/logging"
	"shelfarr/internal/media/ffmpeg"
	"shelfarr/internal/services"
)

// Runner is the subset of ffmpeg.Runner the tagger uses.
type Runner interface {
	Run(ctx context.Context, args []string, onProgress func(ffmpeg.Progress)) error
}

// Track describes one file's position within the book.
type Track struct {
	Number int
	Total  int
	// Title is the per-file title; empty uses the book title.
	Title string
}

// Tagger applies Metadata to files.
type Tagger struct {
	runner Runner
	logger *slog.Logger
}

// New constructs a Tagger. runner may be nil when only MP3 files are tagged.
func New(runner Runner, logger *slog.Logger) *Tagger {
	return &Tagger{runner: runner, logger: logging.NewComponentLogger(logger, "tagger")}
}

// TagFile writes meta (and cover, when non-empty JPEG bytes) into path.
func (t *Tagger) TagFile(ctx context.Context, path string, meta Metadata, track Track, cover []byte) error {
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		return t.tagID3(path, meta, track, cover)
	}
	return t.rewrite(ctx, path, meta, track)
}

func (t *Tagger) tagID3(path string, meta Metadata, track Track, cover []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return services.Wrap(services.ErrContent, "tagger", "open id3", path, err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	title := strings.TrimSpace(track.Title)
	if title == "" {
		title = meta.Title
	}
	if title != "" {
		tag.SetTitle(title)
	}
	if meta.Album() != "" {
		tag.SetAlbum(meta.Album())
	}
	if meta.Author != "" {
		tag.SetArtist(meta.Author)
		tag.AddTextFrame("TPE2", id3v2.EncodingUTF8, meta.Author)
	}
	if meta.Narrator != "" {
		tag.AddTextFrame("TCOM", id3v2.EncodingUTF8, meta.Narrator)
	}
	if meta.Year != "" {
		tag.SetYear(meta.Year)
	}
	tag.SetGenre(genreAudiobook)
	if track.Number > 0 {
		value := strconv.Itoa(track.Number)
		if track.Total > 0 {
			value += "/" + strconv.Itoa(track.Total)
		}
		tag.AddTextFrame("TRCK", id3v2.EncodingUTF8, value)
	}
	if meta.ASIN != "" {
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: "ASIN",
			Value:       meta.ASIN,
		})
	}
	if meta.Series != "" {
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: "SERIES",
			Value:       meta.Series,
		})
	}
	if meta.SeriesPart != "" {
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: "SERIES-PART",
			Value:       meta.SeriesPart,
		})
	}
	if len(cover) > 0 {
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     cover,
		})
	}
	if err := tag.Save(); err != nil {
		return services.Wrap(services.ErrContent, "tagger", "save id3", path, err)
	}
	t.logger.Debug("id3 tags written", logging.String("path", path))
	return nil
}

// rewrite copies all streams into a temp sibling with new metadata and swaps
// it in.
func (t *Tagger) rewrite(ctx context.Context, path string, meta Metadata, track Track) error {
	if t.runner == nil {
		return services.Wrap(services.ErrConfiguration, "tagger", "rewrite", "ffmpeg unavailable", nil)
	}
	ext := filepath.Ext(path)
	tmp := filepath.Join(filepath.Dir(path), "."+strings.TrimSuffix(filepath.Base(path), ext)+".tagging"+ext)
	defer func() { _ = fileutil.RemoveIfExists(tmp) }()

	args := []string{"-i", path, "-map", "0", "-map_metadata", "0", "-map_chapters", "0", "-c", "copy"}
	args = append(args, meta.Args()...)
	if title := strings.TrimSpace(track.Title); title != "" {
		args = append(args, "-metadata", "title="+title)
	}
	if track.Number > 0 {
		value := strconv.Itoa(track.Number)
		if track.Total > 0 {
			value += "/" + strconv.Itoa(track.Total)
		}
		args = append(args, "-metadata", "track="+value)
	}
	if isMP4Family(ext) {
		args = append(args, "-movflags", "+use_metadata_tags")
	}
	args = append(args, tmp)

	if err := t.runner.Run(ctx, args, nil); err != nil {
		return services.Wrap(services.ErrExternalTool, "tagger", "ffmpeg rewrite", path, err)
	}
	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		if err == nil {
			err = errors.New("empty output")
		}
		return services.Wrap(services.ErrContent, "tagger", "ffmpeg rewrite", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace tagged file: %w", err)
	}
	t.logger.Debug("metadata rewritten", logging.String("path", path))
	return nil
}

func isMP4Family(ext string) bool {
	switch strings.ToLower(ext) {
	case ".m4a", ".m4b", ".mp4", ".aac":
		return true
	}
	return false
}
