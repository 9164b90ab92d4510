package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/logging"
)

const (
	scanBuffer   = 64 * 1024
	maxLineBytes = 1024 * 1024
)

// FilePath returns the log file the daemon writes for cfg.
func FilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, logging.FileName)
}

// Filter decides whether a log line is shown.
type Filter func(line string) bool

// RequestFilter matches lines tagged with the given request id.
func RequestFilter(requestID int64) Filter {
	id := strconv.FormatInt(requestID, 10)
	needles := []string{
		"req=" + id + " ",
		"req=" + id + "]",
		`"` + logging.FieldRequestID + `":` + id + ",",
		`"` + logging.FieldRequestID + `":` + id + "}",
	}
	return func(line string) bool {
		for _, needle := range needles {
			if strings.Contains(line, needle) {
				return true
			}
		}
		return false
	}
}

// Last returns up to limit trailing lines accepted by filter, plus the file
// offset to resume following from. A missing file yields no lines.
func Last(path string, limit int, filter Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		offset, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, offset, nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, scanBuffer), maxLineBytes)

	ring := make([]string, limit)
	count, idx := 0, 0
	for scanner.Scan() {
		line := scanner.Text()
		if filter != nil && !filter(line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := range count {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

// Follow polls path from offset and calls emit for every new complete line
// accepted by filter until ctx is cancelled. A file that shrinks below the
// offset is treated as rotated and read from the start.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, filter Filter, emit func(string)) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		next, err := readForward(path, offset, filter, emit)
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readForward(path string, offset int64, filter Filter, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, scanBuffer)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial trailing line is picked up on the next poll.
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if filter == nil || filter(line) {
			emit(line)
		}
	}
}
