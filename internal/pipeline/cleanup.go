package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shelfarr/internal/downloader"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/staging"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

const (
	recurringCleanupKey = "cleanup:recurring"
	jobRetention        = 7 * 24 * time.Hour
	scratchRetention    = 24 * time.Hour
)

// Cleanup removes organized downloads from their clients once seeded long
// enough.
type Cleanup struct{ p *processor }

// NewCleanup constructs the cleanup processor.
func NewCleanup(deps Deps) *Cleanup {
	return &Cleanup{p: newProcessor(deps, "cleanup")}
}

// Type implements workflow.Handler.
func (c *Cleanup) Type() string { return JobCleanup }

type cleanupTally struct {
	removed, gone, seeding, unlimited, failed int
}

// Handle implements workflow.Handler.
func (c *Cleanup) Handle(ctx context.Context, job workflow.Job) (Result, error) {
	p := c.p
	var payload CleanupPayload
	if err := job.Decode(&payload); err != nil {
		return Result{}, err
	}
	logger := logging.WithContext(ctx, p.logger)
	if payload.Recurring {
		defer c.resubmit(ctx, logger, job)
	}

	candidates, err := p.store.ListCleanupCandidates(ctx)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "cleanup", "list candidates", "read download history", err)
	}

	var (
		tally    cleanupTally
		warnings []string
	)
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if err := c.sweep(ctx, logger, candidate, &tally); err != nil {
			tally.failed++
			warnings = append(warnings, fmt.Sprintf("%s: %v", candidate.RequestTitle, err))
			logging.WarnWithContext(logger, "cleanup of download failed", "cleanup_failed",
				logging.Error(err),
				logging.Int64(logging.FieldRequestID, candidate.History.RequestID),
				logging.String(logging.FieldClientID, candidate.History.ClientID),
				logging.String(logging.FieldDownloadID, candidate.History.DownloadClientID),
				logging.String(logging.FieldImpact, "download stays in the client until the next sweep"),
			)
		}
	}

	if purged, err := p.store.PurgeFinishedJobs(ctx, p.now().Add(-jobRetention)); err != nil {
		logger.Warn("failed to purge finished jobs", logging.Error(err))
	} else if purged > 0 {
		logger.Debug("purged finished jobs", logging.Int64("purged", purged))
	}

	scratch := staging.CleanStale(ctx, p.cfg.Paths.TempDir, staging.MergePrefix, p.now().Add(-scratchRetention), logger)
	for _, failed := range scratch.Errors {
		warnings = append(warnings, fmt.Sprintf("scratch %s: %v", failed.Path, failed.Error))
	}

	message := fmt.Sprintf("%d removed, %d still seeding", tally.removed, tally.seeding)
	logger.Info("cleanup sweep finished",
		logging.Int("candidates", len(candidates)),
		logging.Int("removed", tally.removed),
		logging.Int("gone", tally.gone),
		logging.Int("seeding", tally.seeding),
		logging.Int("unlimited", tally.unlimited),
		logging.Int("failed", tally.failed),
		logging.Int("scratch_removed", len(scratch.Removed)),
		logging.Int64("scratch_bytes", scratch.ReclaimedBytes()),
	)
	return Result{
		Success:  true,
		Message:  message,
		Warnings: warnings,
		Fields: map[string]any{
			"removed":   tally.removed,
			"gone":      tally.gone,
			"seeding":   tally.seeding,
			"unlimited": tally.unlimited,
			"failed":    tally.failed,
			"scratch":   len(scratch.Removed),
		},
	}, nil
}

func (c *Cleanup) sweep(ctx context.Context, logger *slog.Logger, candidate store.CleanupCandidate, tally *cleanupTally) error {
	p := c.p
	h := candidate.History
	minutes := p.cfg.Seeding.MinutesFor(h.IndexerName)
	if minutes <= 0 {
		tally.unlimited++
		return nil
	}
	client, err := p.clients.Get(h.ClientID)
	if err != nil {
		return err
	}
	dl, err := client.GetDownload(ctx, h.DownloadClientID)
	if err != nil {
		return err
	}
	if dl == nil {
		if err := p.store.MarkHistoryCleaned(ctx, h.ID); err != nil {
			return err
		}
		tally.gone++
		return nil
	}

	required := time.Duration(minutes) * time.Minute
	if client.Protocol() == downloader.ProtocolTorrent && dl.SeedingTime < required {
		tally.seeding++
		logger.Debug("download still seeding",
			logging.String(logging.FieldDownloadID, h.DownloadClientID),
			logging.Duration("seeding_time", dl.SeedingTime),
			logging.Duration("required", required),
		)
		return nil
	}

	if err := client.DeleteDownload(ctx, h.DownloadClientID, true); err != nil {
		return err
	}
	if err := p.store.MarkHistoryCleaned(ctx, h.ID); err != nil {
		return err
	}
	tally.removed++
	logger.Info("download removed from client",
		logging.Int64(logging.FieldRequestID, h.RequestID),
		logging.String(logging.FieldClientID, h.ClientID),
		logging.String(logging.FieldDownloadID, h.DownloadClientID),
		logging.Duration("seeding_time", dl.SeedingTime),
	)
	return nil
}

func (c *Cleanup) resubmit(ctx context.Context, logger *slog.Logger, job workflow.Job) {
	interval := time.Duration(max(c.p.cfg.Workflow.CleanupIntervalMinutes, 1)) * time.Minute
	if _, err := c.p.submitter.Submit(context.WithoutCancel(ctx), workflow.Spec{
		Type:        JobCleanup,
		Payload:     CleanupPayload{Recurring: true},
		Delay:       interval,
		DedupeKey:   recurringCleanupKey,
		ParentJobID: job.CorrelationID,
	}); err != nil {
		logging.ErrorWithContext(logger, "failed to schedule next cleanup sweep", "cleanup_resubmit_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "recurring cleanup stops until the daemon restarts"),
		)
	}
}

// RecurringSpecs returns the self-resubmitting jobs the daemon seeds on start.
func RecurringSpecs() []workflow.Spec {
	return []workflow.Spec{
		{Type: JobScan, Payload: ScanPayload{Recurring: true}, DedupeKey: recurringScanKey},
		{Type: JobCleanup, Payload: CleanupPayload{Recurring: true}, DedupeKey: recurringCleanupKey},
	}
}
