package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"shelfarr/internal/config"
	"shelfarr/internal/logging"
	"shelfarr/internal/pipeline"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

// Daemon coordinates the background job processing and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	runtime *Runtime

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	Clients      []ClientStatus
}

// ClientStatus summarizes one configured download client.
type ClientStatus struct {
	ID       string
	Type     string
	URL      string
	Disabled bool
}

// New constructs a daemon around an initialized runtime.
func New(rt *Runtime) (*Daemon, error) {
	if rt == nil || rt.Config == nil || rt.Store == nil || rt.Manager == nil || rt.Registry == nil {
		return nil, errors.New("daemon requires config, store, registry, and job manager")
	}
	lockPath := rt.Config.LockPath()
	return &Daemon{
		cfg:      rt.Config,
		logger:   logging.NewComponentLogger(rt.Logger, "daemon"),
		runtime:  rt,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, seeds recurring jobs, and launches the job manager.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another shelfarr daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.seedRecurring(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	if err := d.runtime.Manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start job manager: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("shelfarr daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.runtime.Store.Path()),
		logging.Int("download_clients", len(d.cfg.DownloadClients)),
		logging.Bool("library_enabled", d.runtime.Library != nil),
	)
	return nil
}

func (d *Daemon) seedRecurring(ctx context.Context) error {
	for _, spec := range pipeline.RecurringSpecs() {
		job, err := d.runtime.Manager.Submit(ctx, spec)
		if err != nil {
			return fmt.Errorf("seed recurring %s job: %w", spec.Type, err)
		}
		d.logger.Debug("recurring job seeded",
			logging.String("job_type", spec.Type),
			logging.String("job_id", job.ID),
		)
	}
	return nil
}

// Stop stops background processing and releases the daemon lock. Jobs
// interrupted mid-run are released back to pending.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.runtime.Manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("shelfarr daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.runtime.Close()
}

// Reload applies new download client configuration. Adapters whose
// configuration changed are rebuilt on next use.
func (d *Daemon) Reload(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	evicted := d.runtime.Registry.Reload(cfg.DownloadClients)
	d.logger.Info("configuration reloaded",
		logging.Int("download_clients", len(cfg.DownloadClients)),
		logging.Int("evicted", len(evicted)),
	)
	return evicted
}

// Submit queues a job on the running manager.
func (d *Daemon) Submit(ctx context.Context, spec workflow.Spec) (*store.Job, error) {
	return d.runtime.Manager.Submit(ctx, spec)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Workflow:     d.runtime.Manager.Status(ctx),
		DatabasePath: d.runtime.Store.Path(),
		LockFilePath: d.lockPath,
	}
	for _, client := range d.runtime.Registry.Configs() {
		status.Clients = append(status.Clients, ClientStatus{
			ID:       client.ID,
			Type:     client.Type,
			URL:      client.URL,
			Disabled: client.Disabled,
		})
	}
	return status
}
