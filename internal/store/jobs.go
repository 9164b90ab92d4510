package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = "id, type, payload_json, status, attempts, max_attempts, run_at, dedupe_key, parent_job_id, request_id, last_error, result_json, created_at, updated_at, finished_at"

// EnqueueJob inserts a pending job. When a pending job with the same dedupe
// key already exists, that job is returned and created is false.
func (s *Store) EnqueueJob(ctx context.Context, job NewJob) (*Job, bool, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(job.ID) == "" || strings.TrimSpace(job.Type) == "" {
		return nil, false, errors.New("enqueue job: id and type are required")
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	if job.PayloadJSON == "" {
		job.PayloadJSON = "{}"
	}
	runAt := job.RunAt
	if runAt.IsZero() {
		runAt = s.now()
	}

	// The pending row with our key may be claimed between the ignored insert
	// and the lookup; one more insert then succeeds.
	for attempt := 0; attempt < 3; attempt++ {
		timestamp := s.timestamp()
		res, err := s.execWithRetry(
			ctx,
			`INSERT OR IGNORE INTO jobs (
                id, type, payload_json, status, attempts, max_attempts, run_at,
                dedupe_key, parent_job_id, request_id, created_at, updated_at
            ) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID,
			job.Type,
			job.PayloadJSON,
			JobPending,
			job.MaxAttempts,
			formatTime(runAt),
			nullableString(job.DedupeKey),
			nullableString(job.ParentJobID),
			nullableInt64(job.RequestID),
			timestamp,
			timestamp,
		)
		if err != nil {
			return nil, false, fmt.Errorf("insert job: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created, err := s.GetJob(ctx, job.ID)
			return created, true, err
		}
		if job.DedupeKey == "" {
			return nil, false, fmt.Errorf("insert job: id %s already exists", job.ID)
		}
		existing, err := s.pendingJobByKey(ctx, job.DedupeKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	return nil, false, fmt.Errorf("insert job: dedupe key %q kept conflicting", job.DedupeKey)
}

func (s *Store) pendingJobByKey(ctx context.Context, key string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE dedupe_key = ? AND status = ?`, key, JobPending)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup job by dedupe key: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id. A missing row returns (nil, nil).
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically moves the oldest due pending job to running and
// increments its attempt counter. It returns (nil, nil) when nothing is due.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time) (*Job, error) {
	ctx = ensureContext(ctx)
	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE jobs
             SET status = ?, attempts = attempts + 1, updated_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE status = ? AND run_at <= ?
                 ORDER BY run_at, created_at
                 LIMIT 1
             ) AND status = ?
             RETURNING `+jobColumns,
			JobRunning,
			s.timestamp(),
			JobPending,
			formatTime(now),
			JobPending,
		)
		claimed, err := scanJob(row)
		if err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// NextRunAt returns the earliest run_at among pending jobs, or nil.
func (s *Store) NextRunAt(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT MIN(run_at) FROM jobs WHERE status = ?`, JobPending).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("next run at: %w", err)
	}
	return parseNullTime(raw), nil
}

// CompleteJob finalizes a running job as completed.
func (s *Store) CompleteJob(ctx context.Context, id, resultJSON string) error {
	return s.finishJob(ctx, id, JobCompleted, "", resultJSON)
}

// FailJob finalizes a running job as failed.
func (s *Store) FailJob(ctx context.Context, id, message, resultJSON string) error {
	return s.finishJob(ctx, id, JobFailed, message, resultJSON)
}

func (s *Store) finishJob(ctx context.Context, id string, status JobStatus, message, resultJSON string) error {
	timestamp := s.timestamp()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, last_error = COALESCE(?, last_error), result_json = ?, updated_at = ?, finished_at = ?
         WHERE id = ? AND status = ?`,
		status,
		nullableString(message),
		nullableString(resultJSON),
		timestamp,
		timestamp,
		id,
		JobRunning,
	)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	return nil
}

// RescheduleJob returns a running job to pending at runAt after a retryable
// failure. When another pending job already holds the dedupe key, this job is
// cancelled instead since the newer submission supersedes it.
func (s *Store) RescheduleJob(ctx context.Context, id string, runAt time.Time, message string) error {
	return s.requeue(ctx, id, runAt, message, false)
}

// ReleaseJob returns a running job to pending immediately without consuming
// an attempt. Used when the scheduler shuts down mid-job.
func (s *Store) ReleaseJob(ctx context.Context, id string) error {
	return s.requeue(ctx, id, s.now(), "", true)
}

func (s *Store) requeue(ctx context.Context, id string, runAt time.Time, message string, refund bool) error {
	refundValue := 0
	if refund {
		refundValue = 1
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, run_at = ?, last_error = COALESCE(?, last_error),
             attempts = MAX(attempts - ?, 0), updated_at = ?
         WHERE id = ? AND status = ?`,
		JobPending,
		formatTime(runAt),
		nullableString(message),
		refundValue,
		s.timestamp(),
		id,
		JobRunning,
	)
	if isUniqueViolation(err) {
		return s.finishJob(ctx, id, JobCancelled, "superseded by a newer pending job", "")
	}
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	return nil
}

// RecoverRunningJobs returns jobs left running by a previous process to
// pending. Jobs whose dedupe key is already held by a pending job are cancelled.
func (s *Store) RecoverRunningJobs(ctx context.Context) (int64, error) {
	var recovered int64
	timestamp := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, last_error = 'superseded during recovery', updated_at = ?, finished_at = ?
             WHERE status = ? AND dedupe_key IN (
                 SELECT dedupe_key FROM jobs WHERE status = ? AND dedupe_key IS NOT NULL
             )`,
			JobCancelled, timestamp, timestamp, JobRunning, JobPending,
		); err != nil {
			return fmt.Errorf("cancel superseded jobs: %w", err)
		}
		// Duplicated keys among running jobs: keep the newest.
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, last_error = 'superseded during recovery', updated_at = ?, finished_at = ?
             WHERE status = ? AND dedupe_key IS NOT NULL AND EXISTS (
                 SELECT 1 FROM jobs other
                 WHERE other.status = ? AND other.dedupe_key = jobs.dedupe_key AND other.created_at > jobs.created_at
             )`,
			JobCancelled, timestamp, timestamp, JobRunning, JobRunning,
		); err != nil {
			return fmt.Errorf("cancel duplicate running jobs: %w", err)
		}
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, attempts = MAX(attempts - 1, 0), updated_at = ? WHERE status = ?`,
			JobPending, timestamp, JobRunning,
		)
		if err != nil {
			return fmt.Errorf("recover running jobs: %w", err)
		}
		recovered, err = res.RowsAffected()
		return err
	})
	return recovered, err
}

// CancelRequestJobs cancels pending jobs attached to a request.
func (s *Store) CancelRequestJobs(ctx context.Context, requestID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.cancelRequestJobs(ctx, tx, requestID)
	})
}

func (s *Store) cancelRequestJobs(ctx context.Context, tx *sql.Tx, requestID int64) error {
	timestamp := s.timestamp()
	_, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ?, finished_at = ? WHERE request_id = ? AND status = ?`,
		JobCancelled, timestamp, timestamp, requestID, JobPending,
	)
	if err != nil {
		return fmt.Errorf("cancel request jobs: %w", err)
	}
	return nil
}

// PurgeFinishedJobs deletes finished jobs older than cutoff.
func (s *Store) PurgeFinishedJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		JobCompleted, JobFailed, JobCancelled, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return res.RowsAffected()
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, `status IN (`+makePlaceholders(len(filter.Statuses))+`)`)
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.Type != "" {
		clauses = append(clauses, `type = ?`)
		args = append(args, filter.Type)
	}
	if filter.RequestID > 0 {
		clauses = append(clauses, `request_id = ?`)
		args = append(args, filter.RequestID)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row scanner) (*Job, error) {
	var (
		job         Job
		status      string
		runAtRaw    string
		dedupeKey   sql.NullString
		parentJobID sql.NullString
		requestID   sql.NullInt64
		lastError   sql.NullString
		result      sql.NullString
		createdRaw  string
		updatedRaw  string
		finishedRaw sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&job.PayloadJSON,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&runAtRaw,
		&dedupeKey,
		&parentJobID,
		&requestID,
		&lastError,
		&result,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.DedupeKey = dedupeKey.String
	job.ParentJobID = parentJobID.String
	job.RequestID = requestID.Int64
	job.LastError = lastError.String
	job.ResultJSON = result.String
	if t, err := parseTimeString(runAtRaw); err == nil {
		job.RunAt = t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	job.FinishedAt = parseNullTime(finishedRaw)
	return &job, nil
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[JobStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[JobStatus(status)] = count
	}
	return counts, rows.Err()
}
