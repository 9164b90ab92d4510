package logging

import (
	"context"
	"log/slog"

	"shelfarr/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRequestID is the standardized key for audiobook request identifiers.
	FieldRequestID = "request_id"
	// FieldJobID is the standardized key for scheduler job identifiers.
	FieldJobID = "job_id"
	// FieldJobType is the standardized key for job types (acquire, monitor, ...).
	FieldJobType = "job_type"
	// FieldCorrelationID is the standardized key for the id shared by a chain of jobs.
	FieldCorrelationID = "correlation_id"
	// FieldEventType names the kind of event a warning or error describes.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldClientID names the configured download client.
	FieldClientID = "client_id"
	// FieldDownloadID is the client-assigned download identifier.
	FieldDownloadID = "download_id"
	// FieldProgressPercent is the standardized key for progress percentages.
	FieldProgressPercent = "progress_percent"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldRequestID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if jobType, ok := services.JobTypeFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobType, jobType))
	}
	if cid, ok := services.CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, cid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
