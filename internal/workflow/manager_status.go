package workflow

import (
	"context"
	"sort"
	"time"

	"shelfarr/internal/logging"
	"shelfarr/internal/store"
)

// ActiveJob describes a job a worker is currently running.
type ActiveJob struct {
	ID        string
	Type      string
	RequestID int64
	Attempt   int
	StartedAt time.Time
}

// StatusSummary represents lightweight scheduler diagnostics.
type StatusSummary struct {
	Running   bool
	Workers   int
	Handlers  []string
	Active    []ActiveJob
	JobStats  map[store.JobStatus]int
	LastError string
	LastJob   *store.Job
}

// Status returns the latest scheduler information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, Workers: m.workers}
	for jobType := range m.handlers {
		summary.Handlers = append(summary.Handlers, jobType)
	}
	for _, active := range m.active {
		summary.Active = append(summary.Active, active)
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	m.mu.RUnlock()

	sort.Strings(summary.Handlers)
	sort.Slice(summary.Active, func(i, j int) bool {
		return summary.Active[i].StartedAt.Before(summary.Active[j].StartedAt)
	})

	stats, err := m.store.JobCounts(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.JobStats = stats
	return summary
}

func (m *Manager) trackStart(job *store.Job) {
	m.mu.Lock()
	m.active[job.ID] = ActiveJob{
		ID:        job.ID,
		Type:      job.Type,
		RequestID: job.RequestID,
		Attempt:   job.Attempts,
		StartedAt: time.Now(),
	}
	m.mu.Unlock()
}

func (m *Manager) trackDone(job *store.Job) {
	m.mu.Lock()
	delete(m.active, job.ID)
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *store.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
