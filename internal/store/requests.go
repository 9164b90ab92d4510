package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const requestColumns = "id, title, author, narrator, asin, year, series, series_part, cover_url, ebook_url, status, progress, error_message, status_note, target_path, library_item_id, created_at, updated_at, completed_at"

// CreateRequest inserts a pending request.
func (s *Store) CreateRequest(ctx context.Context, req NewRequest) (*Request, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, errors.New("create request: title is required")
	}
	timestamp := s.timestamp()

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO requests (
            title, author, narrator, asin, year, series, series_part, cover_url, ebook_url,
            status, progress, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		title,
		nullableString(strings.TrimSpace(req.Author)),
		nullableString(strings.TrimSpace(req.Narrator)),
		nullableString(strings.TrimSpace(req.ASIN)),
		nullableInt(req.Year),
		nullableString(strings.TrimSpace(req.Series)),
		nullableString(strings.TrimSpace(req.SeriesPart)),
		nullableString(strings.TrimSpace(req.CoverURL)),
		nullableString(strings.TrimSpace(req.EbookURL)),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetRequest(ctx, id)
}

// GetRequest fetches a request by identifier. A missing row returns (nil, nil).
func (s *Store) GetRequest(ctx context.Context, id int64) (*Request, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// ListRequests returns requests ordered by id, optionally filtered by status.
func (s *Store) ListRequests(ctx context.Context, statuses ...Status) ([]*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Transition moves a request to target when it currently sits in one of the
// legal source statuses, writing update in the same statement.
func (s *Store) Transition(ctx context.Context, id int64, target Status, update TransitionUpdate) error {
	sources := transitionSources[target]
	if len(sources) == 0 {
		return fmt.Errorf("transition to %q: unknown status", target)
	}
	return s.transition(ctx, s.db, id, target, sources, update)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) transition(ctx context.Context, db execer, id int64, target Status, sources []Status, update TransitionUpdate) error {
	ctx = ensureContext(ctx)
	timestamp := s.timestamp()
	completes := target == StatusDownloaded || target == StatusAvailable || target == StatusCompleted

	var progress any
	if update.Progress != nil {
		progress = clampProgress(*update.Progress)
	}

	args := []any{
		target,
		nullableString(update.ErrorMessage),
		nullableString(update.StatusNote),
		nullableString(update.TargetPath),
		nullableString(update.LibraryItemID),
		progress,
		timestamp,
		boolToInt(completes),
		timestamp,
		id,
	}
	for _, source := range sources {
		args = append(args, source)
	}

	query := `UPDATE requests
        SET status = ?, error_message = ?, status_note = ?,
            target_path = COALESCE(?, target_path),
            library_item_id = COALESCE(?, library_item_id),
            progress = COALESCE(?, progress),
            updated_at = ?,
            completed_at = CASE WHEN ? = 1 THEN COALESCE(completed_at, ?) ELSE completed_at END
        WHERE id = ? AND status IN (` + makePlaceholders(len(sources)) + `)`

	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("transition request %d to %s: %w", id, target, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = db.QueryRowContext(ctx, `SELECT status FROM requests WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read request status: %w", err)
	}
	return fmt.Errorf("%w: request %d is %s, cannot move to %s", ErrTransitionRejected, id, current, target)
}

// UpdateProgress records download progress while the request is downloading.
func (s *Store) UpdateProgress(ctx context.Context, id int64, progress float64) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE requests SET progress = ?, updated_at = ? WHERE id = ? AND status = ?`,
		clampProgress(progress),
		s.timestamp(),
		id,
		StatusDownloading,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// FailRequest moves a non-terminal request to failed with message.
func (s *Store) FailRequest(ctx context.Context, id int64, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "failed without a reported cause"
	}
	return s.Transition(ctx, id, StatusFailed, TransitionUpdate{ErrorMessage: message})
}

// DenyRequest moves a non-terminal request to denied and cancels its pending jobs.
func (s *Store) DenyRequest(ctx context.Context, id int64, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.transition(ctx, tx, id, StatusDenied, transitionSources[StatusDenied], TransitionUpdate{StatusNote: strings.TrimSpace(reason)}); err != nil {
			return err
		}
		return s.cancelRequestJobs(ctx, tx, id)
	})
}

// RetryRequest moves a failed request back to pending, clearing its error and progress.
func (s *Store) RetryRequest(ctx context.Context, id int64) error {
	zero := 0.0
	return s.Transition(ctx, id, StatusPending, TransitionUpdate{StatusNote: "retry requested", Progress: &zero})
}

func clampProgress(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}

func scanRequest(row scanner) (*Request, error) {
	var (
		req          Request
		author       sql.NullString
		narrator     sql.NullString
		asin         sql.NullString
		year         sql.NullInt64
		series       sql.NullString
		seriesPart   sql.NullString
		coverURL     sql.NullString
		ebookURL     sql.NullString
		status       string
		errorMessage sql.NullString
		statusNote   sql.NullString
		targetPath   sql.NullString
		libraryItem  sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := row.Scan(
		&req.ID,
		&req.Title,
		&author,
		&narrator,
		&asin,
		&year,
		&series,
		&seriesPart,
		&coverURL,
		&ebookURL,
		&status,
		&req.Progress,
		&errorMessage,
		&statusNote,
		&targetPath,
		&libraryItem,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	req.Author = author.String
	req.Narrator = narrator.String
	req.ASIN = asin.String
	req.Year = int(year.Int64)
	req.Series = series.String
	req.SeriesPart = seriesPart.String
	req.CoverURL = coverURL.String
	req.EbookURL = ebookURL.String
	req.Status = Status(status)
	req.ErrorMessage = errorMessage.String
	req.StatusNote = statusNote.String
	req.TargetPath = targetPath.String
	req.LibraryItemID = libraryItem.String
	if created, err := parseTimeString(createdRaw.String); err == nil {
		req.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		req.UpdatedAt = updated
	}
	req.CompletedAt = parseNullTime(completedRaw)
	return &req, nil
}
