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

// loadRequest returns the request or nil when it no longer exists.
func (p *processor) loadRequest(ctx context.Context, id int64) (*store.Request, error) {
	req, err := p.store.GetRequest(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "load request", fmt.Sprintf("read request %d", id), err)
	}
	return req, nil
}

// failRequest moves req to failed with the causing message and notifies.
// A request that already left the non-terminal states is left alone.
func (p *processor) failRequest(ctx context.Context, logger *slog.Logger, req *store.Request, cause error) {
	message := failureText(cause)
	if err := p.store.FailRequest(ctx, req.ID, message); err != nil {
		if errors.Is(err, store.ErrTransitionRejected) || errors.Is(err, store.ErrRequestNotFound) {
			logger.Debug("request already terminal; failure not recorded", logging.Error(err))
			return
		}
		logger.Error("failed to persist request failure", logging.Error(err))
		return
	}
	logging.ErrorWithContext(logger, "request failed", "request_failed",
		logging.String("reason", message),
		logging.String("error_kind", string(services.Classify(cause))),
		logging.Alert("request_failure"),
	)
	if err := p.notifier.NotifyFailed(ctx, req.Title, message); err != nil {
		logger.Warn("failure notification failed", logging.Error(err), logging.String(logging.FieldEventType, "notification_failed"))
	}
}

// exhausted fails the request behind job after its transient retries ran out.
func (p *processor) exhausted(ctx context.Context, job workflow.Job, cause error) {
	if job.RequestID <= 0 {
		return
	}
	logger := logging.WithContext(ctx, p.logger)
	req, err := p.loadRequest(ctx, job.RequestID)
	if err != nil || req == nil {
		return
	}
	p.failRequest(ctx, logger, req, fmt.Errorf("gave up after %d attempts: %w", job.Attempt, cause))
}

func failureText(err error) string {
	if err == nil {
		return "failed without a reported cause"
	}
	return strings.TrimSpace(err.Error())
}

// permanent reports whether err must fail the request instead of being
// retried by the scheduler.
func permanent(err error) bool {
	return err != nil && !services.IsTransient(err)
}

func bookFor(req *store.Request) organizer.Book {
	book := organizer.Book{
		Title:      req.Title,
		Author:     req.Author,
		Narrator:   req.Narrator,
		ASIN:       req.ASIN,
		Series:     req.Series,
		SeriesPart: req.SeriesPart,
		CoverURL:   req.CoverURL,
		EbookURL:   req.EbookURL,
	}
	if req.Year > 0 {
		book.Year = fmt.Sprintf("%d", req.Year)
	}
	return book
}

func skipped(message string) Result {
	return Result{Success: true, Message: message, Fields: map[string]any{"skipped": true}}
}
