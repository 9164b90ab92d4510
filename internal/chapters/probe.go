package chapters

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"shelfarr/internal/media/ffprobe"
)

// Prober inspects one media file.
type Prober interface {
	Probe(ctx context.Context, path string) (ffprobe.Result, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, path string) (ffprobe.Result, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, path string) (ffprobe.Result, error) {
	return f(ctx, path)
}

// FFprobe returns a Prober backed by the given ffprobe binary.
func FFprobe(binary string) Prober {
	return ProberFunc(func(ctx context.Context, path string) (ffprobe.Result, error) {
		return ffprobe.Inspect(ctx, binary, path)
	})
}

// Track is the probed view of one input file.
type Track struct {
	Path        string
	Duration    float64
	BitRate     int64
	Codec       string
	TrackNumber int
	Title       string
	Album       string
}

// probeAll probes files with at most limit probes in flight, preserving
// input order.
func probeAll(ctx context.Context, prober Prober, files []string, limit int) ([]Track, error) {
	if limit <= 0 {
		limit = 4
	}
	tracks := make([]Track, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range files {
		g.Go(func() error {
			res, err := prober.Probe(gctx, path)
			if err != nil {
				return fmt.Errorf("probe %s: %w", filepath.Base(path), err)
			}
			if _, ok := res.AudioStream(); !ok {
				return fmt.Errorf("probe %s: no audio stream", filepath.Base(path))
			}
			duration := res.DurationSeconds()
			if !(duration > 0) {
				return fmt.Errorf("probe %s: unknown duration", filepath.Base(path))
			}
			tracks[i] = Track{
				Path:        path,
				Duration:    duration,
				BitRate:     res.BitRate(),
				Codec:       res.AudioCodec(),
				TrackNumber: res.TrackNumber(),
				Title:       res.Title(),
				Album:       res.Album(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tracks, nil
}
