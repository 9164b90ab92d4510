package workflow

import (
	"context"
	"log/slog"
	"time"

	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/store"
)

// jobContext annotates ctx with the identifiers of job. The correlation id is
// the parent job id for follow-up jobs and the job's own id otherwise.
func jobContext(ctx context.Context, job *store.Job) context.Context {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithJobType(ctx, job.Type)
	ctx = services.WithRequestID(ctx, job.RequestID)
	return services.WithCorrelationID(ctx, correlationID(job))
}

func correlationID(job *store.Job) string {
	if job.ParentJobID != "" {
		return job.ParentJobID
	}
	return job.ID
}

func (m *Manager) jobLogger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = m.logger
	}
	if base == nil {
		base = logging.NewNop()
	}
	return logging.WithContext(ctx, base)
}

func toHandlerJob(job *store.Job) Job {
	return Job{
		ID:            job.ID,
		Type:          job.Type,
		Payload:       []byte(job.PayloadJSON),
		Attempt:       job.Attempts,
		MaxAttempts:   job.MaxAttempts,
		RequestID:     job.RequestID,
		ParentJobID:   job.ParentJobID,
		CorrelationID: correlationID(job),
	}
}

func jobDurationAttr(started time.Time) logging.Attr {
	return logging.Duration("elapsed", time.Since(started).Round(time.Millisecond))
}
