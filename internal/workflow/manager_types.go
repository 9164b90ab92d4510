package workflow

import (
	"context"
	"encoding/json"
	"time"

	"shelfarr/internal/services"
)

// Job is the view of a claimed job handed to a Handler.
type Job struct {
	ID            string
	Type          string
	Payload       json.RawMessage
	Attempt       int
	MaxAttempts   int
	RequestID     int64
	ParentJobID   string
	CorrelationID string
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	payload := j.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return services.Wrap(services.ErrValidation, "workflow", "decode payload", "job "+j.ID+" has a malformed payload", err)
	}
	return nil
}

// LastAttempt reports whether a failure of this run exhausts the job.
func (j Job) LastAttempt() bool {
	return j.MaxAttempts > 0 && j.Attempt >= j.MaxAttempts
}

// Result is the structured outcome of a handler run, persisted as the job's
// result.
type Result struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Handler runs jobs of a single type.
type Handler interface {
	Type() string
	Handle(ctx context.Context, job Job) (Result, error)
}

// Exhauster is implemented by handlers that need to react when a transient
// failure used up the job's last attempt.
type Exhauster interface {
	Exhausted(ctx context.Context, job Job, err error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	JobType string
	Fn      func(ctx context.Context, job Job) (Result, error)
}

// Type returns the job type served by the function.
func (h HandlerFunc) Type() string { return h.JobType }

// Handle calls the wrapped function.
func (h HandlerFunc) Handle(ctx context.Context, job Job) (Result, error) {
	return h.Fn(ctx, job)
}

// Spec describes a job submission.
type Spec struct {
	Type string
	// Payload is marshalled to JSON; json.RawMessage and []byte are stored as is.
	Payload     any
	Delay       time.Duration
	DedupeKey   string
	ParentJobID string
	RequestID   int64
	// MaxAttempts overrides the configured attempt cap when positive.
	MaxAttempts int
}
