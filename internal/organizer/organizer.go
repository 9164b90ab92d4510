package organizer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"shelfarr/internal/chapters"
	"shelfarr/internal/config"
	"shelfarr/internal/fileutil"
	"shelfarr/internal/logging"
	"shelfarr/internal/media/ffmpeg"
	"shelfarr/internal/services"
	"shelfarr/internal/staging"
	"shelfarr/internal/tagger"
	"shelfarr/internal/textutil"
)

const defaultFetchTimeout = 60 * time.Second

// Merger consolidates chapter files; satisfied by *chapters.Merger.
type Merger interface {
	Merge(ctx context.Context, files []string, output string, meta tagger.Metadata) (*chapters.Result, error)
}

// Tagger writes metadata into a file; satisfied by *tagger.Tagger.
type Tagger interface {
	TagFile(ctx context.Context, path string, meta tagger.Metadata, track tagger.Track, cover []byte) error
}

// Request describes one organize operation.
type Request struct {
	Book       Book
	SourcePath string
	// Template overrides the configured path template when set.
	Template string
}

// Result reports the outcome of Organize. Warnings collect non-fatal
// failures of optional steps.
type Result struct {
	Success     bool
	TargetPath  string
	FilesCopied int
	Files       []string
	Merged      bool
	CoverPath   string
	EbookPath   string
	Warnings    []string
}

// Option customizes an Organizer.
type Option func(*Organizer)

// WithMerger replaces the chapter merger.
func WithMerger(m Merger) Option {
	return func(o *Organizer) { o.merger = m }
}

// WithTagger replaces the file tagger.
func WithTagger(t Tagger) Option {
	return func(o *Organizer) { o.tagger = t }
}

// WithHTTPClient replaces the client used for cover and e-book downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Organizer) {
		if c != nil {
			o.http = c
		}
	}
}

// Organizer places downloaded audiobooks into the media library.
type Organizer struct {
	cfg    *config.Config
	merger Merger
	tagger Tagger
	http   *http.Client
	logger *slog.Logger
}

// New constructs an Organizer wired to ffmpeg from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Organizer {
	logger = logging.NewComponentLogger(logger, "organizer")
	timeout := time.Duration(cfg.Organizer.FetchTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	runner := ffmpeg.New(cfg.FFmpeg.FFmpegBinary)
	o := &Organizer{
		cfg:    cfg,
		merger: chapters.NewMerger(cfg.FFmpeg, logger),
		tagger: tagger.New(runner, logger),
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Metadata converts the book into tag values.
func (b Book) Metadata() tagger.Metadata {
	return tagger.Metadata{
		Title:      strings.TrimSpace(b.Title),
		Author:     strings.TrimSpace(b.Author),
		Narrator:   strings.TrimSpace(b.Narrator),
		Year:       strings.TrimSpace(b.Year),
		ASIN:       strings.TrimSpace(b.ASIN),
		Series:     strings.TrimSpace(b.Series),
		SeriesPart: strings.TrimSpace(b.SeriesPart),
	}
}

// Organize places req.SourcePath into the library. A returned error means
// the primary audio could not be placed; everything else degrades into
// Result.Warnings.
func (o *Organizer) Organize(ctx context.Context, req Request) (*Result, error) {
	logger := logging.WithContext(ctx, o.logger)
	template := req.Template
	if strings.TrimSpace(template) == "" {
		template = o.cfg.Organizer.Template
	}
	relDir, err := ResolveTemplate(template, req.Book)
	if err != nil {
		return nil, err
	}
	root := o.cfg.Paths.MediaDir
	if err := ensureWritable(root); err != nil {
		return nil, err
	}
	target := filepath.Join(root, relDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, placementError("create target", target, err)
	}

	result := &Result{TargetPath: target}
	sources, err := o.collectSources(logger, req.SourcePath, result)
	if err != nil {
		return nil, err
	}
	logger.Info("organizing audiobook",
		logging.String("source", req.SourcePath),
		logging.String("target", target),
		logging.Int("files", len(sources)),
	)

	meta := req.Book.Metadata()
	var cover []byte
	if o.cfg.Organizer.FetchCover && strings.TrimSpace(req.Book.CoverURL) != "" {
		cover, err = o.fetchCover(ctx, req.Book.CoverURL)
		if err != nil {
			warn(logger, result, "cover_fetch_failed", "cover art unavailable", err, "check the request cover url")
			cover = nil
		}
	}

	placements, cleanup := o.planPlacements(ctx, logger, req, sources, target, meta, result)
	defer cleanup()

	placed := make([]string, 0, len(placements))
	for _, p := range placements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(p.dst), 0o755); err != nil {
			return nil, placementError("copy audio", filepath.Dir(p.dst), err)
		}
		copied, err := fileutil.CopyIfNeeded(p.src, p.dst)
		if err != nil {
			return nil, placementError("copy audio", filepath.Base(p.src), err)
		}
		if !copied {
			logger.Debug("identical file already in library", logging.String("path", p.dst))
		}
		placed = append(placed, p.dst)
	}
	if err := validatePlaced(placed); err != nil {
		return nil, err
	}
	result.Files = placed
	result.FilesCopied = len(placed)

	if o.cfg.Organizer.TagFiles && o.tagger != nil {
		for i, p := range placements {
			if p.merged {
				continue
			}
			track := tagger.Track{Number: i + 1, Total: len(placements)}
			if err := o.tagger.TagFile(ctx, p.dst, meta, track, cover); err != nil {
				warn(logger, result, "tagging_failed", "tagging "+filepath.Base(p.dst)+" failed", err, "check ffmpeg and file permissions")
			}
		}
	}

	if len(cover) > 0 {
		if path, err := writeCover(target, cover); err != nil {
			warn(logger, result, "cover_write_failed", "cover art not saved", err, "check media_dir permissions")
		} else {
			result.CoverPath = path
		}
	}

	if o.cfg.Organizer.FetchEbook && strings.TrimSpace(req.Book.EbookURL) != "" {
		name := textutil.SanitizePathValue(req.Book.Title, maxValueRunes)
		if name == "" {
			name = "ebook"
		}
		if path, err := o.fetchEbook(ctx, req.Book.EbookURL, target, name); err != nil {
			warn(logger, result, "ebook_fetch_failed", "e-book sidecar unavailable", err, "check the request e-book url")
		} else {
			result.EbookPath = path
		}
	}

	result.Success = true
	logger.Info("audiobook organized",
		logging.String("target", target),
		logging.Int("files", result.FilesCopied),
		logging.Bool("merged", result.Merged),
		logging.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

type placement struct {
	src    string
	dst    string
	merged bool
}

// collectSources lists audio under source, dropping empty files with a
// warning.
func (o *Organizer) collectSources(logger *slog.Logger, source string, result *Result) ([]string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, "organizer", "collect sources", "download path is empty", nil)
	}
	files, err := chapters.AudioFiles(source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrNotFound, "organizer", "collect sources", source, err)
		}
		return nil, placementError("collect sources", source, err)
	}
	usable := files[:0]
	for _, f := range files {
		info, err := os.Stat(f)
		if err == nil && info.Size() > 0 {
			usable = append(usable, f)
			continue
		}
		warn(logger, result, "empty_source_file", "skipping empty source file "+filepath.Base(f), err, "re-download the release")
	}
	if len(usable) == 0 {
		return nil, services.Wrap(services.ErrContent, "organizer", "collect sources",
			fmt.Sprintf("no usable audio files under %s", source), nil)
	}
	slices.SortFunc(usable, func(a, b string) int {
		switch {
		case textutil.NaturalLess(a, b):
			return -1
		case textutil.NaturalLess(b, a):
			return 1
		}
		return 0
	})
	return usable, nil
}

// planPlacements merges chapter sets when enabled, falling back to one
// placement per source file. The returned cleanup removes temporary merge
// output.
func (o *Organizer) planPlacements(ctx context.Context, logger *slog.Logger, req Request, sources []string, target string, meta tagger.Metadata, result *Result) ([]placement, func()) {
	noop := func() {}
	if o.cfg.Organizer.MergeChapters && o.merger != nil && chapters.IsChapterSet(sources) {
		if o.cfg.Paths.TempDir != "" {
			_ = os.MkdirAll(o.cfg.Paths.TempDir, 0o755)
		}
		tmpDir, err := os.MkdirTemp(o.cfg.Paths.TempDir, staging.MergePrefix)
		if err != nil {
			warn(logger, result, "chapter_merge_failed", "chapter merge skipped", err, "check paths.temp_dir")
		} else {
			name := textutil.SanitizePathValue(req.Book.Title, maxValueRunes)
			if name == "" {
				name = "audiobook"
			}
			output := filepath.Join(tmpDir, name+".m4b")
			cleanup := func() { _ = os.RemoveAll(tmpDir) }
			_, err := o.merger.Merge(ctx, sources, output, meta)
			if err == nil {
				result.Merged = true
				return []placement{{src: output, dst: filepath.Join(target, name+".m4b"), merged: true}}, cleanup
			}
			cleanup()
			warn(logger, result, "chapter_merge_failed", "chapter merge failed; organized per file", err, "inspect the source files")
		}
	}

	base := req.SourcePath
	if info, err := os.Stat(base); err == nil && !info.IsDir() {
		base = filepath.Dir(base)
	}
	placements := make([]placement, 0, len(sources))
	for _, src := range sources {
		rel, err := filepath.Rel(base, src)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(src)
		}
		placements = append(placements, placement{src: src, dst: filepath.Join(target, rel)})
	}
	return placements, noop
}
