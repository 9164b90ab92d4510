package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"shelfarr/internal/downloader"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

const progressLogStep = 5.0

// Monitor polls a download until the client reports it finished or failed.
type Monitor struct{ p *processor }

// NewMonitor constructs the monitor processor.
func NewMonitor(deps Deps) *Monitor {
	return &Monitor{p: newProcessor(deps, "monitor")}
}

// Type implements workflow.Handler.
func (m *Monitor) Type() string { return JobMonitor }

// Exhausted fails the request once the client stayed unreachable for every
// attempt.
func (m *Monitor) Exhausted(ctx context.Context, job workflow.Job, err error) {
	m.p.exhausted(ctx, job, err)
}

// Handle implements workflow.Handler.
func (m *Monitor) Handle(ctx context.Context, job workflow.Job) (Result, error) {
	p := m.p
	var payload MonitorPayload
	if err := job.Decode(&payload); err != nil {
		return Result{}, err
	}
	if err := payload.validate(); err != nil {
		return Result{}, err
	}
	ctx = services.WithRequestID(ctx, payload.RequestID)
	logger := logging.WithContext(ctx, p.logger).With(
		logging.String(logging.FieldClientID, payload.ClientID),
		logging.String(logging.FieldDownloadID, payload.DownloadID),
	)

	req, err := p.loadRequest(ctx, payload.RequestID)
	if err != nil {
		return Result{}, err
	}
	if req == nil {
		return skipped("request no longer exists; monitoring stopped"), nil
	}
	if req.Status != store.StatusDownloading {
		return skipped(fmt.Sprintf("request is %s; monitoring stopped", req.Status)), nil
	}
	history, err := p.store.GetHistory(ctx, payload.HistoryID)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "monitor", "load history", "read download history", err)
	}
	if history == nil || !history.Selected {
		return skipped("download is no longer the selected attempt; monitoring stopped"), nil
	}
	clientID := firstNonEmpty(payload.ClientID, history.ClientID)
	downloadID := firstNonEmpty(payload.DownloadID, history.DownloadClientID)

	client, err := p.clients.Get(clientID)
	if err != nil {
		p.failRequest(ctx, logger, req, err)
		return Result{}, err
	}
	dl, err := client.GetDownload(ctx, downloadID)
	if err != nil {
		if permanent(err) {
			p.failRequest(ctx, logger, req, err)
		}
		return Result{}, err
	}

	if dl == nil {
		return m.handleMissing(ctx, logger, job, payload, req, history)
	}

	percent := dl.Percent()
	if err := p.store.UpdateProgress(ctx, req.ID, percent); err != nil {
		logger.Warn("failed to persist progress", logging.Error(err))
	}
	if err := p.store.UpdateHistory(ctx, history.ID, store.HistoryUpdate{
		Status:      string(dl.Status),
		TorrentName: dl.Name,
		SizeBytes:   dl.Size,
	}); err != nil {
		logger.Warn("failed to persist download status", logging.Error(err))
	}

	switch {
	case dl.Status.IsComplete():
		return m.handleComplete(ctx, logger, job, client, req, history, dl)
	case dl.Status == downloader.StatusFailed:
		reason := strings.TrimSpace(dl.Error)
		if reason == "" {
			reason = "download failed in client"
		}
		if err := p.store.UpdateHistory(ctx, history.ID, store.HistoryUpdate{Status: string(dl.Status), ErrorMessage: reason}); err != nil {
			logger.Warn("failed to persist download failure", logging.Error(err))
		}
		p.failRequest(ctx, logger, req, services.Wrap(services.ErrRejected, client.Type(), "download", reason, nil))
		return Result{Success: false, Message: reason}, nil
	}

	if shouldLogProgress(payload.LastLogged, percent) {
		logger.Info("download progress",
			logging.Float64(logging.FieldProgressPercent, math.Round(percent*10)/10),
			logging.String("download_status", string(dl.Status)),
			logging.Int64("speed_bps", dl.Speed),
			logging.Duration("eta", dl.ETA),
		)
		payload.LastLogged = percent
	}
	if err := m.resubmit(ctx, job, payload, p.monitorInterval()); err != nil {
		return Result{}, err
	}
	return Result{
		Success: true,
		Message: "download in progress",
		Fields:  map[string]any{"progress": percent, "status": string(dl.Status)},
	}, nil
}

// handleMissing keeps polling while the download may still be invisible to a
// client that has only just accepted it, and fails the request afterwards.
func (m *Monitor) handleMissing(ctx context.Context, logger *slog.Logger, job workflow.Job, payload MonitorPayload, req *store.Request, history *store.DownloadHistory) (Result, error) {
	p := m.p
	grace := time.Duration(p.cfg.Workflow.NotFoundGraceSeconds) * time.Second
	started := history.CreatedAt
	if history.StartedAt != nil {
		started = *history.StartedAt
	}
	if p.now().Sub(started) < grace {
		logger.Info("download not visible yet; polling again",
			logging.String(logging.FieldEventType, "download_not_visible"),
			logging.Duration("grace_remaining", grace-p.now().Sub(started)),
		)
		if err := m.resubmit(ctx, job, payload, p.monitorInterval()); err != nil {
			return Result{}, err
		}
		return Result{Success: true, Message: "download not visible yet"}, nil
	}
	cause := services.Wrap(services.ErrRejected, "monitor", "lookup download",
		fmt.Sprintf("download %s disappeared from client %s", payload.DownloadID, payload.ClientID), nil)
	if err := p.store.UpdateHistory(ctx, history.ID, store.HistoryUpdate{Status: store.HistoryStatusFailed, ErrorMessage: failureText(cause)}); err != nil {
		logger.Warn("failed to persist download failure", logging.Error(err))
	}
	p.failRequest(ctx, logger, req, cause)
	return Result{Success: false, Message: failureText(cause)}, nil
}

func (m *Monitor) handleComplete(ctx context.Context, logger *slog.Logger, job workflow.Job, client downloader.Client, req *store.Request, history *store.DownloadHistory, dl *downloader.Download) (Result, error) {
	p := m.p
	localPath := p.clients.Mapping(client.ID()).ToLocal(dl.Path)
	if strings.TrimSpace(localPath) == "" {
		cause := services.Wrap(services.ErrRejected, client.Type(), "resolve path", "client reported no content path for a finished download", nil)
		p.failRequest(ctx, logger, req, cause)
		return Result{Success: false, Message: failureText(cause)}, nil
	}
	if err := p.store.UpdateHistory(ctx, history.ID, store.HistoryUpdate{
		Status:       string(dl.Status),
		DownloadPath: localPath,
		Completed:    true,
	}); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "monitor", "record completion", "persist download path", err)
	}
	if _, err := p.submitter.Submit(ctx, workflow.Spec{
		Type:        JobOrganize,
		Payload:     OrganizePayload{RequestID: req.ID, HistoryID: history.ID, SourcePath: localPath},
		DedupeKey:   dedupeKey(JobOrganize, req.ID),
		ParentJobID: job.CorrelationID,
		RequestID:   req.ID,
	}); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "monitor", "submit organize", "queue organize job", err)
	}
	logger.Info("download complete",
		logging.String("download_status", string(dl.Status)),
		logging.String("local_path", localPath),
		logging.Int64("size_bytes", dl.Size),
	)
	return Result{
		Success: true,
		Message: "download complete",
		Fields:  map[string]any{"path": localPath},
	}, nil
}

// resubmit queues the next poll of this download as a fresh job.
func (m *Monitor) resubmit(ctx context.Context, job workflow.Job, payload MonitorPayload, delay time.Duration) error {
	_, err := m.p.submitter.Submit(ctx, workflow.Spec{
		Type:        JobMonitor,
		Payload:     payload,
		Delay:       delay,
		DedupeKey:   dedupeKey(JobMonitor, payload.RequestID),
		ParentJobID: job.CorrelationID,
		RequestID:   payload.RequestID,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "monitor", "resubmit", "queue next poll", err)
	}
	return nil
}

func (p *processor) monitorInterval() time.Duration {
	return time.Duration(max(p.cfg.Workflow.MonitorIntervalSeconds, 1)) * time.Second
}

func shouldLogProgress(last, current float64) bool {
	return last < 0 || current-last >= progressLogStep
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
