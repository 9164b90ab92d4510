package services

import "context"

type contextKey string

const (
	requestIDKey     contextKey = "request_id"
	jobIDKey         contextKey = "job_id"
	jobTypeKey       contextKey = "job_type"
	correlationIDKey contextKey = "correlation_id"
)

// WithRequestID annotates context with the audiobook request identifier.
func WithRequestID(ctx context.Context, id int64) context.Context {
	if id <= 0 {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the audiobook request identifier if present.
func RequestIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(requestIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithJobID annotates context with the scheduler job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext returns the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobType annotates context with the job type (acquire, monitor, ...).
func WithJobType(ctx context.Context, jobType string) context.Context {
	if jobType == "" {
		return ctx
	}
	return context.WithValue(ctx, jobTypeKey, jobType)
}

// JobTypeFromContext returns the job type if present.
func JobTypeFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobTypeKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCorrelationID annotates context with the identifier shared by a chain
// of jobs (the originating job id).
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation identifier if present.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
