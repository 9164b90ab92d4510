package chapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/fileutil"
	"shelfarr/internal/logging"
	"shelfarr/internal/media/ffmpeg"
	"shelfarr/internal/services"
	"shelfarr/internal/tagger"
)

const (
	minBitrateKbps = 64
	maxBitrateKbps = 320
)

// Runner is the subset of ffmpeg.Runner the merger drives.
type Runner interface {
	Run(ctx context.Context, args []string, onProgress func(ffmpeg.Progress)) error
	DecodeTest(ctx context.Context, path string, seconds int, fromEnd bool) error
}

// Result describes a completed merge.
type Result struct {
	OutputPath  string
	Chapters    []Chapter
	Duration    time.Duration
	StreamCopy  bool
	BitrateKbps int
	OrderSource string
	// OrderConfident is false when metadata and filename order disagreed.
	OrderConfident bool
	BookTitle      string
}

// Option customizes a Merger.
type Option func(*Merger)

// WithRunner replaces the ffmpeg runner.
func WithRunner(r Runner) Option {
	return func(m *Merger) {
		if r != nil {
			m.runner = r
		}
	}
}

// WithProber replaces the ffprobe prober.
func WithProber(p Prober) Option {
	return func(m *Merger) {
		if p != nil {
			m.prober = p
		}
	}
}

// WithProgress registers a callback for throttled progress percentages.
func WithProgress(fn func(percent float64)) Option {
	return func(m *Merger) { m.onProgress = fn }
}

// Merger runs the chapter merge toolchain.
type Merger struct {
	cfg        config.FFmpeg
	runner     Runner
	prober     Prober
	logger     *slog.Logger
	onProgress func(float64)
}

// NewMerger builds a Merger from ffmpeg configuration.
func NewMerger(cfg config.FFmpeg, logger *slog.Logger, opts ...Option) *Merger {
	m := &Merger{
		cfg:    cfg,
		runner: ffmpeg.New(cfg.FFmpegBinary),
		prober: FFprobe(cfg.FFprobeBinary),
		logger: logging.NewComponentLogger(logger, "chapters"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge consolidates files into output with chapter markers and book tags.
// Errors carry services markers: ErrValidation when files are not a chapter
// set and ErrContent for probe, merge, timeout or validation failures.
func (m *Merger) Merge(ctx context.Context, files []string, output string, meta tagger.Metadata) (*Result, error) {
	if !IsChapterSet(files) {
		return nil, services.Wrap(services.ErrValidation, "chapters", "detect",
			fmt.Sprintf("%d files do not form a chapter set", len(files)), nil)
	}
	tracks, err := probeAll(ctx, m.prober, files, m.cfg.ProbeConcurrency)
	if err != nil {
		return nil, services.Wrap(services.ErrContent, "chapters", "probe", "", err)
	}

	bookTitle := DetectBookTitle(tracks)
	ordering := OrderTracks(tracks)
	if ordering.Source == OrderMetadata && !ordering.Agreed {
		logging.WarnWithContext(m.logger, "track metadata disagrees with filename order; using metadata order",
			"chapter_order_conflict",
			logging.Int("files", len(tracks)),
			logging.String(logging.FieldErrorHint, "verify chapter order in the merged file"),
			logging.String(logging.FieldImpact, "chapters follow embedded track numbers"),
		)
	}
	if meta.Title == "" {
		meta.Title = bookTitle
	}

	chapters := BuildTimeline(ordering.Tracks, bookTitle)
	totalMs := TotalMs(chapters)
	copyMode := canStreamCopy(ordering.Tracks)
	bitrate := 0
	if !copyMode {
		bitrate = targetBitrateKbps(ordering.Tracks)
	}

	workDir, err := os.MkdirTemp(filepath.Dir(output), ".shelfarr-merge-")
	if err != nil {
		return nil, fmt.Errorf("create merge workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	paths := make([]string, len(ordering.Tracks))
	for i, t := range ordering.Tracks {
		abs, err := filepath.Abs(t.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", t.Path, err)
		}
		paths[i] = abs
	}
	listPath := filepath.Join(workDir, "concat.txt")
	metaPath := filepath.Join(workDir, "chapters.txt")
	if err := os.WriteFile(listPath, []byte(ConcatList(paths)), 0o644); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}
	if err := os.WriteFile(metaPath, []byte(FFMetadata(meta, chapters)), 0o644); err != nil {
		return nil, fmt.Errorf("write chapter metadata: %w", err)
	}
	partial := filepath.Join(workDir, "merged.m4b")

	timeout := m.timeout(float64(totalMs)/1000, copyMode)
	m.logger.Info("merging chapters",
		logging.Int("files", len(paths)),
		logging.String("order", ordering.Source),
		logging.Bool("stream_copy", copyMode),
		logging.Int("bitrate_kbps", bitrate),
		logging.Duration("timeout", timeout),
		logging.String("output", output),
	)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	throttle := logging.NewProgressThrottle(10, 5*time.Minute)
	onProgress := func(p ffmpeg.Progress) {
		if totalMs <= 0 {
			return
		}
		percent := math.Min(100, float64(p.OutTime.Milliseconds())*100/float64(totalMs))
		if p.Done {
			percent = 100
		}
		if !throttle.ShouldEmit(percent) {
			return
		}
		m.logger.Info("merge progress", logging.Float64(logging.FieldProgressPercent, math.Round(percent)))
		if m.onProgress != nil {
			m.onProgress(percent)
		}
	}
	if err := m.runner.Run(runCtx, mergeArgs(listPath, metaPath, partial, copyMode, bitrate), onProgress); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, services.Wrap(services.ErrContent, "chapters", "merge",
				fmt.Sprintf("ffmpeg exceeded %s and was killed", timeout), err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrContent, "chapters", "merge", "ffmpeg failed", err)
	}

	expected := time.Duration(totalMs) * time.Millisecond
	if err := m.Validate(ctx, partial, expected); err != nil {
		_ = fileutil.RemoveIfExists(partial)
		return nil, err
	}
	if err := fileutil.ReplaceFile(partial, output); err != nil {
		return nil, fmt.Errorf("move merged file into place: %w", err)
	}

	m.logger.Info("chapters merged",
		logging.String("output", output),
		logging.Int("chapters", len(chapters)),
		logging.Duration("duration", expected),
	)
	return &Result{
		OutputPath:     output,
		Chapters:       chapters,
		Duration:       expected,
		StreamCopy:     copyMode,
		BitrateKbps:    bitrate,
		OrderSource:    ordering.Source,
		OrderConfident: ordering.Source == OrderFilename || ordering.Agreed,
		BookTitle:      bookTitle,
	}, nil
}

func (m *Merger) timeout(durationSeconds float64, copyMode bool) time.Duration {
	factor := m.cfg.TranscodeSpeedFactor
	if copyMode {
		factor = m.cfg.CopySpeedFactor
	}
	if factor <= 0 {
		factor = 0.5
	}
	margin := m.cfg.TimeoutMarginSeconds
	if margin <= 0 {
		margin = 300
	}
	return time.Duration(durationSeconds*factor*float64(time.Second)) + time.Duration(margin)*time.Second
}

func mergeArgs(listPath, metaPath, output string, copyMode bool, bitrateKbps int) []string {
	args := []string{
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-f", "ffmetadata", "-i", metaPath,
		"-map", "0:a", "-map_metadata", "1", "-map_chapters", "1",
	}
	if copyMode {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", "aac", "-b:a", strconv.Itoa(bitrateKbps)+"k")
	}
	return append(args, "-movflags", "+faststart+use_metadata_tags", "-f", "mp4", output)
}

// canStreamCopy reports whether every input is AAC in an MP4-family container.
func canStreamCopy(tracks []Track) bool {
	for _, t := range tracks {
		switch strings.ToLower(filepath.Ext(t.Path)) {
		case ".m4a", ".m4b", ".aac":
		default:
			return false
		}
		if !strings.EqualFold(t.Codec, "aac") {
			return false
		}
	}
	return len(tracks) > 0
}

// targetBitrateKbps is the average source bitrate clamped to 64..320 kbps
// and rounded to the nearest 8 kbps.
func targetBitrateKbps(tracks []Track) int {
	var sum int64
	var n int64
	for _, t := range tracks {
		if t.BitRate > 0 {
			sum += t.BitRate
			n++
		}
	}
	kbps := 128.0
	if n > 0 {
		kbps = float64(sum) / float64(n) / 1000
	}
	kbps = math.Max(minBitrateKbps, math.Min(maxBitrateKbps, kbps))
	return int(math.Round(kbps/8) * 8)
}
