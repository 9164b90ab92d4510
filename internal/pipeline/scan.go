package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"shelfarr/internal/library"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/store"
	"shelfarr/internal/workflow"
)

const (
	// NotePendingConfirmation marks completed requests the library has not
	// confirmed yet; later scans keep trying to match them.
	NotePendingConfirmation = "library confirmation pending a future scan"
	noteLibraryDisabled     = "library confirmation disabled"

	recurringScanKey = "scan:recurring"
	scanSettleDelay  = 30 * time.Second
)

// Scan matches organized requests against the library contents.
type Scan struct{ p *processor }

// NewScan constructs the scan processor.
func NewScan(deps Deps) *Scan {
	return &Scan{p: newProcessor(deps, "scan")}
}

// Type implements workflow.Handler.
func (s *Scan) Type() string { return JobScan }

type scanTally struct {
	matched, pending, confirmedLater int
}

// Handle implements workflow.Handler.
func (s *Scan) Handle(ctx context.Context, job workflow.Job) (Result, error) {
	p := s.p
	var payload ScanPayload
	if err := job.Decode(&payload); err != nil {
		return Result{}, err
	}
	logger := logging.WithContext(ctx, p.logger)
	if payload.Recurring {
		defer s.resubmit(ctx, logger, job, payload)
	}

	candidates, err := s.candidates(ctx, payload)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{Success: true, Message: "no requests awaiting library confirmation"}, nil
	}

	if p.library == nil {
		completed := 0
		for _, req := range candidates {
			if req.Status == store.StatusDownloaded && s.complete(ctx, logger, req, noteLibraryDisabled) {
				completed++
			}
		}
		return Result{Success: true, Message: noteLibraryDisabled, Fields: map[string]any{"completed": completed}}, nil
	}

	var warnings []string
	if payload.forceRescan() {
		if err := p.library.ScanLibrary(ctx, p.cfg.Library.LibraryID, true); err != nil {
			warnings = append(warnings, "library rescan failed: "+err.Error())
			logging.WarnWithContext(logger, "library rescan failed", "library_scan_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "matching runs against the current library contents"),
			)
		}
	}

	var tally scanTally
	for _, req := range candidates {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		s.reconcile(ctx, logger, req, &tally, &warnings)
	}

	message := fmt.Sprintf("%d matched, %d pending confirmation", tally.matched, tally.pending)
	logger.Info("library scan finished",
		logging.Int("candidates", len(candidates)),
		logging.Int("matched", tally.matched),
		logging.Int("pending", tally.pending),
	)
	return Result{
		Success:  true,
		Message:  message,
		Warnings: warnings,
		Fields: map[string]any{
			"candidates": len(candidates),
			"matched":    tally.matched,
			"pending":    tally.pending,
		},
	}, nil
}

// candidates returns downloaded requests plus completed ones still waiting
// for confirmation, narrowed by the payload filters.
func (s *Scan) candidates(ctx context.Context, payload ScanPayload) ([]*store.Request, error) {
	var pool []*store.Request
	if payload.RequestID > 0 {
		req, err := s.p.loadRequest(ctx, payload.RequestID)
		if err != nil {
			return nil, err
		}
		if req != nil {
			pool = append(pool, req)
		}
	} else {
		all, err := s.p.store.ListRequests(ctx, store.StatusDownloaded, store.StatusCompleted)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "scan", "list requests", "read organized requests", err)
		}
		pool = all
	}

	var out []*store.Request
	for _, req := range pool {
		switch {
		case req.Status == store.StatusDownloaded:
		case req.Status == store.StatusCompleted && req.StatusNote == NotePendingConfirmation:
		default:
			continue
		}
		if payload.Path != "" && !underPath(req.TargetPath, payload.Path) {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *Scan) reconcile(ctx context.Context, logger *slog.Logger, req *store.Request, tally *scanTally, warnings *[]string) {
	p := s.p
	reqLogger := logger.With(logging.Int64(logging.FieldRequestID, req.ID))
	items, err := p.library.SearchItems(ctx, p.cfg.Library.LibraryID, req.Title)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("search for %q failed: %v", req.Title, err))
		logging.WarnWithContext(reqLogger, "library search failed", "library_search_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "request completes without confirmation"),
		)
	}

	query := library.Query{Title: req.Title, Author: req.Author, ASIN: req.ASIN}
	candidate, ok := library.Match(query, items, p.cfg.Library.MatchThreshold)
	if !ok {
		if req.Status == store.StatusDownloaded {
			s.complete(ctx, reqLogger, req, NotePendingConfirmation)
		}
		tally.pending++
		return
	}

	note := fmt.Sprintf("matched library item %q (score %.2f)", candidate.Item.Title, candidate.Score)
	err = p.store.Transition(ctx, req.ID, store.StatusAvailable, store.TransitionUpdate{
		LibraryItemID: candidate.Item.ID,
		StatusNote:    note,
	})
	if err != nil {
		if !errors.Is(err, store.ErrTransitionRejected) {
			reqLogger.Warn("failed to record library match", logging.Error(err))
		}
		return
	}
	tally.matched++
	reqLogger.Info("request confirmed in library",
		logging.String("library_item_id", candidate.Item.ID),
		logging.Float64("score", candidate.Score),
	)
	if err := p.notifier.NotifyAvailable(ctx, req.Title, req.Author); err != nil {
		reqLogger.Warn("available notification failed", logging.Error(err), logging.String(logging.FieldEventType, "notification_failed"))
	}
}

// complete finishes a downloaded request without library confirmation.
func (s *Scan) complete(ctx context.Context, logger *slog.Logger, req *store.Request, note string) bool {
	err := s.p.store.Transition(ctx, req.ID, store.StatusCompleted, store.TransitionUpdate{StatusNote: note})
	if err != nil {
		if !errors.Is(err, store.ErrTransitionRejected) {
			logger.Warn("failed to complete request", logging.Error(err))
		}
		return false
	}
	logger.Info("request completed without library confirmation", logging.String("note", note))
	return true
}

func (s *Scan) resubmit(ctx context.Context, logger *slog.Logger, job workflow.Job, payload ScanPayload) {
	interval := time.Duration(max(s.p.cfg.Workflow.ScanIntervalMinutes, 1)) * time.Minute
	if _, err := s.p.submitter.Submit(context.WithoutCancel(ctx), workflow.Spec{
		Type:        JobScan,
		Payload:     ScanPayload{Recurring: true, Partial: payload.Partial},
		Delay:       interval,
		DedupeKey:   recurringScanKey,
		ParentJobID: job.CorrelationID,
	}); err != nil {
		logging.ErrorWithContext(logger, "failed to schedule next library scan", "scan_resubmit_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "recurring library scans stop until the daemon restarts"),
		)
	}
}

func (p *processor) scanSettleDelay() time.Duration {
	if p.library == nil {
		return 0
	}
	return scanSettleDelay
}

func underPath(target, root string) bool {
	if strings.TrimSpace(target) == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
