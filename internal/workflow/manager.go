package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelfarr/internal/config"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/store"
)

const maxRetryBackoff = time.Hour

// Manager coordinates persisted job processing using registered handlers.
type Manager struct {
	store        *store.Store
	logger       *slog.Logger
	pollInterval time.Duration
	workers      int
	maxAttempts  int
	retryBackoff time.Duration
	now          func() time.Time

	handlers map[string]Handler
	wake     chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *store.Job
	active  map[string]ActiveJob
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithClock overrides the time source used for run times (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPollInterval overrides the idle poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// NewManager constructs a job manager backed by st.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	wf := config.Default().Workflow
	if cfg != nil {
		wf = cfg.Workflow
	}
	workers := max(wf.Concurrency, 1)
	m := &Manager{
		store:        st,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		pollInterval: time.Duration(max(wf.PollIntervalMillis, 10)) * time.Millisecond,
		workers:      workers,
		maxAttempts:  max(wf.MaxAttempts, 1),
		retryBackoff: time.Duration(max(wf.RetryBackoffSeconds, 1)) * time.Second,
		now:          time.Now,
		handlers:     make(map[string]Handler),
		wake:         make(chan struct{}, workers),
		active:       make(map[string]ActiveJob),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register installs handler for its job type, replacing any earlier one.
func (m *Manager) Register(handler Handler) {
	if handler == nil {
		return
	}
	jobType := strings.TrimSpace(handler.Type())
	if jobType == "" {
		return
	}
	m.mu.Lock()
	m.handlers[jobType] = handler
	m.mu.Unlock()
}

func (m *Manager) handler(jobType string) Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[jobType]
}

// Submit persists a job. When a pending job already holds spec.DedupeKey, that
// job is returned instead of creating a new one.
func (m *Manager) Submit(ctx context.Context, spec Spec) (*store.Job, error) {
	jobType := strings.TrimSpace(spec.Type)
	if jobType == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "job type is required", nil)
	}
	payload, err := encodePayload(spec.Payload)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "encode "+jobType+" payload", err)
	}
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.maxAttempts
	}
	job, created, err := m.store.EnqueueJob(ctx, store.NewJob{
		ID:          uuid.NewString(),
		Type:        jobType,
		PayloadJSON: payload,
		RunAt:       m.now().Add(max(spec.Delay, 0)),
		DedupeKey:   strings.TrimSpace(spec.DedupeKey),
		ParentJobID: spec.ParentJobID,
		RequestID:   spec.RequestID,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s job: %w", jobType, err)
	}
	logger := logging.WithContext(ctx, m.logger)
	if !created {
		logger.Debug("job submission deduplicated",
			logging.String("existing_job_id", job.ID),
			logging.String("dedupe_key", job.DedupeKey),
		)
		return job, nil
	}
	logger.Debug("job submitted",
		logging.String("submitted_job_id", job.ID),
		logging.String("submitted_job_type", job.Type),
		logging.Duration("delay", spec.Delay),
	)
	m.signal()
	return job, nil
}

func encodePayload(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "{}", nil
	case json.RawMessage:
		if len(v) == 0 {
			return "{}", nil
		}
		return string(v), nil
	case []byte:
		if len(v) == 0 {
			return "{}", nil
		}
		return string(v), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// signal wakes one idle worker without blocking.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.retryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return delay
}
