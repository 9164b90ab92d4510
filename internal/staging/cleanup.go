// Package staging sweeps the scratch directories chapter merges create
// under the configured temp directory. A merge that completes removes its
// own directory; anything left behind belongs to an interrupted run.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shelfarr/internal/logging"
)

// MergePrefix names the scratch directories created for chapter merges.
const MergePrefix = "merge-"

// CleanStaleResult contains the outcome of a stale directory sweep.
type CleanStaleResult struct {
	Removed []DirInfo
	Errors  []CleanupError
}

// ReclaimedBytes sums the size of every removed directory.
func (r CleanStaleResult) ReclaimedBytes() int64 {
	var total int64
	for _, dir := range r.Removed {
		total += dir.Size
	}
	return total
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// DirInfo describes one scratch directory.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// CleanStale removes scratch directories under root whose name starts with
// prefix and that were last modified before cutoff. A missing root is not an error.
func CleanStale(ctx context.Context, root, prefix string, cutoff time.Time, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	dirs, err := ListDirectories(root, prefix)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		return result
	}

	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		if !dir.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove stale scratch directory",
					logging.String("path", dir.Path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "scratch_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check temp_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dir)
		if logger != nil {
			logger.Info("removed stale scratch directory",
				logging.String("path", dir.Path),
				logging.Int64("bytes", dir.Size),
				logging.Duration("age", cutoff.Sub(dir.ModTime)),
				logging.String(logging.FieldEventType, "scratch_cleanup"),
			)
		}
	}

	return result
}

// ListDirectories returns the directories under root whose name starts with
// prefix. An empty prefix matches every directory.
func ListDirectories(root, prefix string) ([]DirInfo, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(root, entry.Name())
		size, _ := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return dirs, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
