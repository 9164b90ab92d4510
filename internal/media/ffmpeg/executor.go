package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const stderrTailLines = 20

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// ExitError reports a failed ffmpeg invocation with the last stderr lines.
type ExitError struct {
	Err  error
	Tail []string
}

func (e *ExitError) Error() string {
	if len(e.Tail) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Tail, " | "))
}

func (e *ExitError) Unwrap() error { return e.Err }

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	// A killed ffmpeg may leave pipes open through children; bound the wait.
	cmd.WaitDelay = 5 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	tail := newTailBuffer(stderrTailLines)
	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			forward(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout, func(line string) {
		if onStdout != nil {
			onStdout(line)
		}
	})
	go scan(stderr, tail.add)
	wg.Wait()

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ExitError{Err: ctxErr, Tail: tail.lines()}
	}
	if waitErr != nil {
		return &ExitError{Err: waitErr, Tail: tail.lines()}
	}
	if scanErr != nil && !errors.Is(scanErr, io.ErrClosedPipe) {
		return fmt.Errorf("scan output: %w", scanErr)
	}
	return nil
}

type tailBuffer struct {
	mu    sync.Mutex
	max   int
	items []string
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, line)
	if len(t.items) > t.max {
		t.items = t.items[len(t.items)-t.max:]
	}
}

func (t *tailBuffer) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.items...)
}
