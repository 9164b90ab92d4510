package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shelfarr/internal/downloader"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

// Acquire adds a chosen source to a download client and starts monitoring.
type Acquire struct{ p *processor }

// NewAcquire constructs the acquire processor.
func NewAcquire(deps Deps) *Acquire {
	return &Acquire{p: newProcessor(deps, "acquire")}
}

// Type implements workflow.Handler.
func (a *Acquire) Type() string { return JobAcquire }

// Exhausted fails the request once transient add failures ran out of attempts.
func (a *Acquire) Exhausted(ctx context.Context, job workflow.Job, err error) {
	a.p.exhausted(ctx, job, err)
}

// Handle implements workflow.Handler.
func (a *Acquire) Handle(ctx context.Context, job workflow.Job) (Result, error) {
	p := a.p
	var payload AcquirePayload
	if err := job.Decode(&payload); err != nil {
		return Result{}, err
	}
	if err := payload.validate(); err != nil {
		return Result{}, err
	}
	ctx = services.WithRequestID(ctx, payload.RequestID)
	logger := logging.WithContext(ctx, p.logger)

	req, err := p.loadRequest(ctx, payload.RequestID)
	if err != nil {
		return Result{}, err
	}
	if req == nil {
		return skipped("request no longer exists"), nil
	}
	switch req.Status {
	case store.StatusPending:
		if err := p.store.Transition(ctx, req.ID, store.StatusSearching, store.TransitionUpdate{StatusNote: "resolving download client"}); err != nil && !errors.Is(err, store.ErrTransitionRejected) {
			return Result{}, services.Wrap(services.ErrTransient, "acquire", "mark searching", "persist status", err)
		}
	case store.StatusSearching:
	case store.StatusDownloading:
		if selected, _ := p.store.SelectedHistory(ctx, req.ID); selected != nil && selected.DownloadClientID != "" {
			return skipped("request is already downloading"), nil
		}
		return Result{Success: false, Message: "request is downloading without a selected download"}, nil
	default:
		return Result{Success: false, Message: fmt.Sprintf("request is %s; acquire skipped", req.Status)}, nil
	}

	client, err := a.resolveClient(payload)
	if err != nil {
		p.failRequest(ctx, logger, req, err)
		return Result{}, err
	}
	logger = logger.With(logging.String(logging.FieldClientID, client.ID()))

	source := downloader.Source{URL: payload.SourceURL, Title: payload.SourceTitle}
	record := store.NewDownload{
		RequestID:   req.ID,
		IndexerName: payload.Indexer,
		ClientID:    client.ID(),
		ClientType:  client.Type(),
		TorrentName: payload.SourceTitle,
		SizeBytes:   payload.SizeBytes,
		Seeders:     payload.Seeders,
		Leechers:    payload.Leechers,
	}

	downloadID, err := client.AddDownload(ctx, source, downloader.AddOptions{Category: payload.Category})
	if err != nil {
		if !permanent(err) {
			return Result{}, err
		}
		if _, recErr := p.store.RecordFailedAttempt(ctx, record, failureText(err)); recErr != nil {
			logger.Warn("failed to record rejected download attempt", logging.Error(recErr))
		}
		p.failRequest(ctx, logger, req, err)
		return Result{}, err
	}

	record.DownloadClientID = downloadID
	history, err := p.store.StartDownload(ctx, record)
	if err != nil {
		if errors.Is(err, store.ErrTransitionRejected) || errors.Is(err, store.ErrRequestNotFound) {
			logging.WarnWithContext(logger, "request changed while the download was added", "acquire_request_moved",
				logging.Error(err),
				logging.String(logging.FieldDownloadID, downloadID),
				logging.String(logging.FieldImpact, "download is left in the client without monitoring"),
				logging.String(logging.FieldErrorHint, "remove the download from the client if it is unwanted"),
			)
			return Result{Success: false, Message: failureText(err)}, nil
		}
		return Result{}, services.Wrap(services.ErrTransient, "acquire", "record download", "persist download history", err)
	}

	delay := time.Duration(p.cfg.Workflow.MonitorInitialDelaySeconds) * time.Second
	if _, err := p.submitter.Submit(ctx, workflow.Spec{
		Type: JobMonitor,
		Payload: MonitorPayload{
			RequestID:  req.ID,
			HistoryID:  history.ID,
			ClientID:   client.ID(),
			DownloadID: downloadID,
			LastLogged: -1,
		},
		Delay:       delay,
		DedupeKey:   dedupeKey(JobMonitor, req.ID),
		ParentJobID: job.CorrelationID,
		RequestID:   req.ID,
	}); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "acquire", "submit monitor", "queue monitor job", err)
	}

	logger.Info("download added",
		logging.String(logging.FieldDownloadID, downloadID),
		logging.String("indexer", payload.Indexer),
		logging.Int64("history_id", history.ID),
		logging.Duration("monitor_delay", delay),
	)
	return Result{
		Success: true,
		Message: "download added",
		Fields: map[string]any{
			"client_id":   client.ID(),
			"download_id": downloadID,
			"history_id":  history.ID,
		},
	}, nil
}

func (a *Acquire) resolveClient(payload AcquirePayload) (downloader.Client, error) {
	if payload.ClientID != "" {
		return a.p.clients.Get(payload.ClientID)
	}
	return a.p.clients.ForProtocol(payload.protocol())
}
