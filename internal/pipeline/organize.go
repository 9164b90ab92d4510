package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"shelfarr/internal/logging"
	"shelfarr/internal/organizer"
	"shelfarr/internal/services"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

// Organize places a finished download in the library.
type Organize struct{ p *processor }

// NewOrganize constructs the organize processor.
func NewOrganize(deps Deps) *Organize {
	return &Organize{p: newProcessor(deps, "organize")}
}

// Type implements workflow.Handler.
func (o *Organize) Type() string { return JobOrganize }

// Exhausted fails the request once placement kept failing transiently.
func (o *Organize) Exhausted(ctx context.Context, job workflow.Job, err error) {
	o.p.exhausted(ctx, job, err)
}

// Handle implements workflow.Handler.
func (o *Organize) Handle(ctx context.Context, job workflow.Job) (Result, error) {
	p := o.p
	var payload OrganizePayload
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

	history, err := o.history(ctx, payload)
	if err != nil {
		return Result{}, err
	}
	source := strings.TrimSpace(payload.SourcePath)
	if source == "" && history != nil {
		source = history.DownloadPath
	}
	if source == "" {
		cause := services.Wrap(services.ErrValidation, "organize", "resolve source", "no download path recorded for the request", nil)
		p.failRequest(ctx, logger, req, cause)
		return Result{}, cause
	}

	if err := p.store.Transition(ctx, req.ID, store.StatusOrganizing, store.TransitionUpdate{StatusNote: "organizing files"}); err != nil {
		if errors.Is(err, store.ErrTransitionRejected) {
			switch req.Status {
			case store.StatusDownloaded, store.StatusAvailable, store.StatusCompleted:
				return skipped("request already organized"), nil
			}
			return Result{Success: false, Message: fmt.Sprintf("request is %s; organize skipped", req.Status)}, nil
		}
		return Result{}, services.Wrap(services.ErrTransient, "organize", "mark organizing", "persist status", err)
	}

	result, err := p.organizer.Organize(ctx, organizer.Request{Book: bookFor(req), SourcePath: source})
	if err != nil {
		if permanent(err) {
			p.failRequest(ctx, logger, req, err)
		}
		return Result{}, err
	}

	full := 100.0
	note := "organized"
	if len(result.Warnings) > 0 {
		note = fmt.Sprintf("organized with %d warning(s)", len(result.Warnings))
	}
	if err := p.store.Transition(ctx, req.ID, store.StatusDownloaded, store.TransitionUpdate{
		TargetPath: result.TargetPath,
		StatusNote: note,
		Progress:   &full,
	}); err != nil {
		if errors.Is(err, store.ErrTransitionRejected) || errors.Is(err, store.ErrRequestNotFound) {
			logging.WarnWithContext(logger, "request changed while organizing", "organize_request_moved",
				logging.Error(err),
				logging.String("target_path", result.TargetPath),
				logging.String(logging.FieldImpact, "organized files are left in place"),
			)
			return Result{Success: false, Message: failureText(err), Warnings: result.Warnings}, nil
		}
		return Result{}, services.Wrap(services.ErrTransient, "organize", "mark downloaded", "persist status", err)
	}

	o.postProcess(ctx, logger, history)
	o.requestLibraryScan(ctx, logger, job, req.ID, result.TargetPath)
	if err := p.notifier.NotifyDownloaded(ctx, req.Title, req.Author, result.TargetPath); err != nil {
		logger.Warn("download notification failed", logging.Error(err), logging.String(logging.FieldEventType, "notification_failed"))
	}

	logger.Info("request organized",
		logging.String("target_path", result.TargetPath),
		logging.Int("files_copied", result.FilesCopied),
		logging.Bool("merged", result.Merged),
		logging.Int("warnings", len(result.Warnings)),
	)
	return Result{
		Success:  true,
		Message:  note,
		Warnings: result.Warnings,
		Fields: map[string]any{
			"target_path":  result.TargetPath,
			"files_copied": result.FilesCopied,
			"merged":       result.Merged,
		},
	}, nil
}

func (o *Organize) history(ctx context.Context, payload OrganizePayload) (*store.DownloadHistory, error) {
	var (
		history *store.DownloadHistory
		err     error
	)
	if payload.HistoryID > 0 {
		history, err = o.p.store.GetHistory(ctx, payload.HistoryID)
	} else {
		history, err = o.p.store.SelectedHistory(ctx, payload.RequestID)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "organize", "load history", "read download history", err)
	}
	return history, nil
}

// postProcess tells the client the payload was consumed. Best effort.
func (o *Organize) postProcess(ctx context.Context, logger *slog.Logger, history *store.DownloadHistory) {
	if history == nil || history.ClientID == "" || history.DownloadClientID == "" {
		return
	}
	client, err := o.p.clients.Get(history.ClientID)
	if err == nil {
		err = client.PostProcess(ctx, history.DownloadClientID)
	}
	if err != nil {
		logging.WarnWithContext(logger, "client post-processing failed", "post_process_failed",
			logging.Error(err),
			logging.String(logging.FieldClientID, history.ClientID),
			logging.String(logging.FieldDownloadID, history.DownloadClientID),
			logging.String(logging.FieldImpact, "download keeps its original category"),
		)
	}
}

// requestLibraryScan asks the library to pick up the new folder and queues
// the match for this request. Best effort.
func (o *Organize) requestLibraryScan(ctx context.Context, logger *slog.Logger, job workflow.Job, requestID int64, targetPath string) {
	p := o.p
	if p.library != nil && p.cfg.Library.TriggerScan {
		if err := p.library.ScanLibrary(ctx, p.cfg.Library.LibraryID, false); err != nil {
			logging.WarnWithContext(logger, "library scan trigger failed", "library_scan_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "library picks the book up on its own schedule"),
			)
		}
	}
	if _, err := p.submitter.Submit(ctx, workflow.Spec{
		Type:        JobScan,
		Payload:     ScanPayload{RequestID: requestID, Path: targetPath},
		Delay:       p.scanSettleDelay(),
		DedupeKey:   dedupeKey(JobScan, requestID),
		ParentJobID: job.CorrelationID,
		RequestID:   requestID,
	}); err != nil {
		logging.WarnWithContext(logger, "failed to queue library match", "scan_submit_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the recurring scan confirms the request later"),
		)
	}
}
