package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const historyColumns = "id, request_id, indexer_name, client_id, client_type, download_client_id, torrent_name, size_bytes, seeders, leechers, status, selected, download_path, error_message, started_at, completed_at, cleaned_at, created_at"

// HistoryStatusFailed marks an attempt that never reached the client or that
// the client reported as failed.
const HistoryStatusFailed = "failed"

// HistoryStatusQueued is the initial status of a freshly added download.
const HistoryStatusQueued = "queued"

// StartDownload moves the request to downloading and records the attempt as
// the selected history row, all in one transaction. The request must be
// pending or searching.
func (s *Store) StartDownload(ctx context.Context, dl NewDownload) (*DownloadHistory, error) {
	var historyID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.transition(ctx, tx, dl.RequestID, StatusDownloading, transitionSources[StatusDownloading], TransitionUpdate{}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE download_history SET selected = 0 WHERE request_id = ? AND selected = 1`, dl.RequestID); err != nil {
			return fmt.Errorf("clear selection: %w", err)
		}
		id, err := s.insertHistory(ctx, tx, dl, HistoryStatusQueued, true, "")
		if err != nil {
			return err
		}
		historyID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetHistory(ctx, historyID)
}

// RecordFailedAttempt appends an unselected history row for an attempt the
// client refused.
func (s *Store) RecordFailedAttempt(ctx context.Context, dl NewDownload, message string) (*DownloadHistory, error) {
	var historyID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := s.insertHistory(ctx, tx, dl, HistoryStatusFailed, false, message)
		historyID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetHistory(ctx, historyID)
}

func (s *Store) insertHistory(ctx context.Context, tx *sql.Tx, dl NewDownload, status string, selected bool, message string) (int64, error) {
	timestamp := s.timestamp()
	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO download_history (
            request_id, indexer_name, client_id, client_type, download_client_id, torrent_name,
            size_bytes, seeders, leechers, status, selected, error_message, started_at, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.RequestID,
		nullableString(dl.IndexerName),
		nullableString(dl.ClientID),
		nullableString(dl.ClientType),
		nullableString(dl.DownloadClientID),
		nullableString(dl.TorrentName),
		dl.SizeBytes,
		dl.Seeders,
		dl.Leechers,
		status,
		boolToInt(selected),
		nullableString(message),
		timestamp,
		timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert download history: %w", err)
	}
	return res.LastInsertId()
}

// SelectHistory makes historyID the selected row for its request.
func (s *Store) SelectHistory(ctx context.Context, requestID, historyID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE download_history SET selected = 0 WHERE request_id = ? AND selected = 1`, requestID); err != nil {
			return fmt.Errorf("clear selection: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE download_history SET selected = 1 WHERE id = ? AND request_id = ?`, historyID, requestID)
		if err != nil {
			return fmt.Errorf("select history: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("select history: row %d does not belong to request %d", historyID, requestID)
		}
		return nil
	})
}

// GetHistory fetches one history row. A missing row returns (nil, nil).
func (s *Store) GetHistory(ctx context.Context, id int64) (*DownloadHistory, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+historyColumns+` FROM download_history WHERE id = ?`, id)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return h, nil
}

// SelectedHistory returns the selected row for a request, or (nil, nil).
func (s *Store) SelectedHistory(ctx context.Context, requestID int64) (*DownloadHistory, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+historyColumns+` FROM download_history WHERE request_id = ? AND selected = 1`, requestID)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selected history: %w", err)
	}
	return h, nil
}

// ListHistory returns every attempt for a request, oldest first.
func (s *Store) ListHistory(ctx context.Context, requestID int64) ([]*DownloadHistory, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+historyColumns+` FROM download_history WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []*DownloadHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpdateHistory records the latest client observation for a history row.
// Empty fields leave the stored value untouched.
func (s *Store) UpdateHistory(ctx context.Context, id int64, update HistoryUpdate) error {
	var completedAt any
	if update.Completed {
		completedAt = s.timestamp()
	}
	var size any
	if update.SizeBytes > 0 {
		size = update.SizeBytes
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE download_history
         SET status = COALESCE(?, status),
             torrent_name = COALESCE(?, torrent_name),
             size_bytes = COALESCE(?, size_bytes),
             download_path = COALESCE(?, download_path),
             error_message = COALESCE(?, error_message),
             completed_at = COALESCE(completed_at, ?)
         WHERE id = ?`,
		nullableString(update.Status),
		nullableString(update.TorrentName),
		size,
		nullableString(update.DownloadPath),
		nullableString(update.ErrorMessage),
		completedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	return nil
}

// MarkHistoryCleaned stamps cleaned_at so the cleanup sweep skips the row.
func (s *Store) MarkHistoryCleaned(ctx context.Context, id int64) error {
	_, err := s.execWithRetry(ctx, `UPDATE download_history SET cleaned_at = ? WHERE id = ? AND cleaned_at IS NULL`, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("mark history cleaned: %w", err)
	}
	return nil
}

// ListCleanupCandidates returns selected, not yet cleaned history rows of
// requests whose files have been organized.
func (s *Store) ListCleanupCandidates(ctx context.Context) ([]CleanupCandidate, error) {
	cols := "h." + joinPrefixed(historyColumns, "h.")
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+cols+`, r.status, r.title
         FROM download_history h
         JOIN requests r ON r.id = h.request_id
         WHERE h.selected = 1 AND h.cleaned_at IS NULL AND h.download_client_id IS NOT NULL
           AND r.status IN (?, ?, ?)
         ORDER BY h.id`,
		StatusDownloaded, StatusAvailable, StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("list cleanup candidates: %w", err)
	}
	defer rows.Close()

	var out []CleanupCandidate
	for rows.Next() {
		var (
			status string
			title  string
		)
		h, err := scanHistoryWith(rows, &status, &title)
		if err != nil {
			return nil, fmt.Errorf("scan cleanup candidate: %w", err)
		}
		out = append(out, CleanupCandidate{History: *h, RequestStatus: Status(status), RequestTitle: title})
	}
	return out, rows.Err()
}

func joinPrefixed(columns, prefix string) string {
	out := make([]byte, 0, len(columns)*2)
	for i := 0; i < len(columns); i++ {
		out = append(out, columns[i])
		if columns[i] == ' ' && i > 0 && columns[i-1] == ',' {
			out = append(out, prefix...)
		}
	}
	return string(out)
}

func scanHistory(row scanner) (*DownloadHistory, error) {
	return scanHistoryWith(row)
}

func scanHistoryWith(row scanner, extra ...any) (*DownloadHistory, error) {
	var (
		h            DownloadHistory
		indexer      sql.NullString
		clientID     sql.NullString
		clientType   sql.NullString
		downloadID   sql.NullString
		name         sql.NullString
		selected     int
		downloadPath sql.NullString
		errorMessage sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		cleanedRaw   sql.NullString
		createdRaw   sql.NullString
	)
	dest := []any{
		&h.ID,
		&h.RequestID,
		&indexer,
		&clientID,
		&clientType,
		&downloadID,
		&name,
		&h.SizeBytes,
		&h.Seeders,
		&h.Leechers,
		&h.Status,
		&selected,
		&downloadPath,
		&errorMessage,
		&startedRaw,
		&completedRaw,
		&cleanedRaw,
		&createdRaw,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	h.IndexerName = indexer.String
	h.ClientID = clientID.String
	h.ClientType = clientType.String
	h.DownloadClientID = downloadID.String
	h.TorrentName = name.String
	h.Selected = selected != 0
	h.DownloadPath = downloadPath.String
	h.ErrorMessage = errorMessage.String
	h.StartedAt = parseNullTime(startedRaw)
	h.CompletedAt = parseNullTime(completedRaw)
	h.CleanedAt = parseNullTime(cleanedRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		h.CreatedAt = created
	}
	return &h, nil
}
