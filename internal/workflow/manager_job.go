package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"shelfarr/internal/logging"
	"shelfarr/internal/store"
)

func (m *Manager) processJob(ctx context.Context, base *slog.Logger, job *store.Job) {
	jobCtx := jobContext(ctx, job)
	logger := m.jobLogger(jobCtx, base)
	// Finalization must land even when ctx is being cancelled.
	persistCtx := context.WithoutCancel(jobCtx)

	m.trackStart(job)
	defer m.trackDone(job)

	handler := m.handler(job.Type)
	if handler == nil {
		m.failJob(persistCtx, logger, job, fmt.Errorf("no handler registered for job type %q", job.Type), Result{})
		return
	}

	started := time.Now()
	logger.Info("job started",
		logging.Int("attempt", job.Attempts),
		logging.Int("max_attempts", job.MaxAttempts),
	)
	result, err := invoke(jobCtx, handler, toHandlerJob(job))

	if err != nil && ctx.Err() != nil {
		m.releaseJob(persistCtx, logger, job)
		return
	}
	if err != nil {
		m.handleJobFailure(persistCtx, logger, handler, job, err, result)
		return
	}
	if !result.Success {
		message := strings.TrimSpace(result.Message)
		if message == "" {
			message = job.Type + " job reported failure"
		}
		m.failJob(persistCtx, logger, job, fmt.Errorf("%s", message), result)
		return
	}

	if err := m.store.CompleteJob(persistCtx, job.ID, encodeResult(result)); err != nil {
		m.setLastError(err)
		logger.Error("failed to persist job completion", logging.Error(err))
	}
	m.setLastJob(job)
	attrs := []logging.Attr{
		jobDurationAttr(started),
		logging.String("message", result.Message),
		logging.Int("warnings", len(result.Warnings)),
	}
	logger.Info("job completed", logging.Args(attrs...)...)
}

// invoke runs the handler, converting a panic into an error.
func invoke(ctx context.Context, handler Handler, job Job) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return handler.Handle(ctx, job)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("unexpected defect: %v", e.value)
}

func (m *Manager) releaseJob(ctx context.Context, logger *slog.Logger, job *store.Job) {
	if err := m.store.ReleaseJob(ctx, job.ID); err != nil {
		logger.Error("failed to release interrupted job", logging.Error(err))
		return
	}
	logger.Info("job interrupted by shutdown; released", logging.String(logging.FieldEventType, "job_released"))
}

func encodeResult(result Result) string {
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}
