package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/store"
)

func (m *Manager) handleJobFailure(ctx context.Context, logger *slog.Logger, handler Handler, job *store.Job, jobErr error, result Result) {
	var panicErr *panicError
	if errors.As(jobErr, &panicErr) {
		logging.ErrorWithContext(logger, "job handler panicked", "job_panic",
			logging.Error(jobErr),
			logging.String("stack", string(panicErr.stack)),
			logging.String(logging.FieldErrorHint, "report this defect with the stack trace"),
		)
		m.failJob(ctx, logger, job, jobErr, result)
		return
	}

	kind := services.Classify(jobErr)
	if kind == services.KindTransient && job.Attempts < job.MaxAttempts {
		delay := m.backoff(job.Attempts)
		if err := m.store.RescheduleJob(ctx, job.ID, m.now().Add(delay), failureMessage(job, jobErr)); err != nil {
			m.setLastError(err)
			logger.Error("failed to reschedule job", logging.Error(err))
			return
		}
		logging.WarnWithContext(logger, "job failed transiently; retry scheduled", "job_retry_scheduled",
			logging.Error(jobErr),
			logging.String("error_kind", string(kind)),
			logging.Int("attempt", job.Attempts),
			logging.Int("max_attempts", job.MaxAttempts),
			logging.Duration("retry_in", delay),
			logging.String(logging.FieldImpact, "job will run again after the backoff"),
		)
		return
	}

	if kind == services.KindTransient {
		if exhauster, ok := handler.(Exhauster); ok {
			exhauster.Exhausted(ctx, toHandlerJob(job), jobErr)
		}
	}
	m.failJob(ctx, logger, job, jobErr, result)
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *store.Job, jobErr error, result Result) {
	message := failureMessage(job, jobErr)
	m.setLastError(jobErr)
	m.setLastJob(job)

	if result.Message == "" {
		result.Message = message
	}
	if err := m.store.FailJob(ctx, job.ID, message, encodeResult(result)); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, could not persist job failure")
		} else {
			logger.Error("failed to persist job failure", logging.Error(err))
		}
	}
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.Error(jobErr),
		logging.String("error_kind", string(services.Classify(jobErr))),
		logging.Int("attempt", job.Attempts),
		logging.Int("max_attempts", job.MaxAttempts),
		logging.Alert("job_failure"),
	)
}

func failureMessage(job *store.Job, err error) string {
	if err == nil {
		return job.Type + " job failed without error detail"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return job.Type + " job failed"
	}
	return message
}
