package chapters

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// MinFiles is the smallest set considered for merging. Two files are
// ambiguous (book plus bonus track) and are left alone.
const MinFiles = 3

var supportedExts = []string{".mp3", ".m4a", ".m4b", ".aac", ".flac", ".ogg", ".opus", ".wma"}

// IsSupportedExt reports whether ext (with leading dot) is a chapter format.
func IsSupportedExt(ext string) bool {
	return slices.Contains(supportedExts, strings.ToLower(ext))
}

// IsChapterSet reports whether files look like the chapters of one book.
func IsChapterSet(files []string) bool {
	if len(files) < MinFiles {
		return false
	}
	ext := strings.ToLower(filepath.Ext(files[0]))
	if !IsSupportedExt(ext) {
		return false
	}
	for _, f := range files[1:] {
		if strings.ToLower(filepath.Ext(f)) != ext {
			return false
		}
	}
	return true
}

// AudioFiles lists supported audio files under dir recursively, or dir itself
// when it is a file. Hidden entries are skipped.
func AudioFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if IsSupportedExt(filepath.Ext(dir)) {
			return []string{dir}, nil
		}
		return nil, nil
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if IsSupportedExt(filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
