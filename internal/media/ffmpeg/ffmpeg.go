package ffmpeg

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Progress is one block of ffmpeg's -progress output.
type Progress struct {
	OutTime time.Duration
	Speed   float64
	Done    bool
}

// Option configures the Runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// Runner wraps ffmpeg invocations.
type Runner struct {
	binary string
	exec   Executor
}

// New constructs a Runner; an empty binary means "ffmpeg" on PATH.
func New(binary string, opts ...Option) *Runner {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	r := &Runner{binary: binary, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Binary returns the configured ffmpeg binary.
func (r *Runner) Binary() string { return r.binary }

// Run executes ffmpeg with args. When onProgress is set, progress blocks are
// parsed from stdout and delivered once per block.
func (r *Runner) Run(ctx context.Context, args []string, onProgress func(Progress)) error {
	full := []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error"}
	var onStdout func(string)
	if onProgress != nil {
		full = append(full, "-progress", "pipe:1", "-nostats")
		var current Progress
		onStdout = func(line string) {
			if ParseProgressLine(line, &current) {
				onProgress(current)
				current = Progress{}
			}
		}
	}
	full = append(full, args...)
	return r.exec.Run(ctx, r.binary, full, onStdout)
}

// DecodeTest decodes seconds of audio from the start of path, or from the
// end when fromEnd is set, discarding the output.
func (r *Runner) DecodeTest(ctx context.Context, path string, seconds int, fromEnd bool) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("decode test: empty path")
	}
	if seconds <= 0 {
		seconds = 10
	}
	var args []string
	if fromEnd {
		args = append(args, "-sseof", "-"+strconv.Itoa(seconds))
	}
	args = append(args, "-i", path, "-t", strconv.Itoa(seconds), "-map", "0:a:0", "-f", "null", "-")
	return r.Run(ctx, args, nil)
}

// ParseProgressLine folds one key=value line into p. It returns true when the
// line closes a block ("progress=continue" or "progress=end").
func ParseProgressLine(line string, p *Progress) bool {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds.
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			p.OutTime = time.Duration(n) * time.Microsecond
		}
	case "speed":
		if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
			p.Speed = f
		}
	case "progress":
		p.Done = value == "end"
		return true
	}
	return false
}
