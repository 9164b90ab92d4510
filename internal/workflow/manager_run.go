package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"shelfarr/internal/logging"
)

const (
	errorRetryInterval = 5 * time.Second
	minIdleWait        = 10 * time.Millisecond
)

// Start recovers jobs abandoned by a previous process and begins background
// processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return errors.New("workflow handlers not registered")
	}
	m.running = true
	m.mu.Unlock()

	recovered, err := m.store.RecoverRunningJobs(ctx)
	if err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}
	if recovered > 0 {
		m.logger.Info("recovered interrupted jobs",
			logging.Int64("recovered", recovered),
			logging.String(logging.FieldEventType, "jobs_recovered"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.wg.Add(m.workers)
	m.mu.Unlock()

	for i := range m.workers {
		go m.runWorker(runCtx, m.logger.With(logging.Int("worker", i+1)))
	}
	m.logger.Info("workflow started", logging.Int("workers", m.workers))
	return nil
}

// Stop terminates background processing and waits for in-flight jobs to be
// released.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

// RunDue processes due jobs on the calling goroutine until none are left and
// returns how many ran. Jobs scheduled in the future are left alone.
func (m *Manager) RunDue(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		job, err := m.store.ClaimNextJob(ctx, m.now())
		if err != nil {
			return processed, err
		}
		if job == nil {
			return processed, nil
		}
		m.processJob(ctx, m.logger, job)
		processed++
	}
}

func (m *Manager) runWorker(ctx context.Context, logger *slog.Logger) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.ClaimNextJob(ctx, m.now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}
		m.processJob(ctx, logger, job)
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to claim next job", "job_claim_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(errorRetryInterval):
	}
}

// waitForJobOrShutdown sleeps until the earliest pending run time, the poll
// interval, or a Submit wake-up, whichever comes first.
func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	wait := m.pollInterval
	if next, err := m.store.NextRunAt(ctx); err == nil && next != nil {
		if until := next.Sub(m.now()); until < wait {
			wait = max(until, minIdleWait)
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-timer.C:
	}
}
