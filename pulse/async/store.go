package async

import (
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/dailyix/errors"
)

// Store handles persistence of jobs in pulse_jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO pulse_jobs (
			id, handler_name, source, status,
			progress_current, progress_total,
			payload, result, error,
			retry_count, max_retries, run_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		job.ID,
		job.HandlerName,
		job.Source,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		nullBytes(job.Payload),
		nullBytes(job.Result),
		nullString(job.Error),
		job.RetryCount,
		job.MaxRetries,
		job.RunAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM pulse_jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("job not found: %s", id), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// UpdateJob writes every mutable column of job
func (s *Store) UpdateJob(job *Job) error {
	query := `
		UPDATE pulse_jobs
		SET status = ?,
		    progress_current = ?,
		    progress_total = ?,
		    payload = ?,
		    result = ?,
		    error = ?,
		    retry_count = ?,
		    max_retries = ?,
		    run_at = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.Exec(query,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		nullBytes(job.Payload),
		nullBytes(job.Result),
		nullString(job.Error),
		job.RetryCount,
		job.MaxRetries,
		job.RunAt,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Mark(errors.Newf("job not found: %s", job.ID), errors.ErrNotFound)
	}
	return nil
}

// claimJob moves a runnable job to processing. It reports false when
// another worker claimed it first.
func (s *Store) claimJob(job *Job) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE pulse_jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'retrying')`,
		job.Status, job.StartedAt, job.UpdatedAt, job.ID)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return n == 1, nil
}

// updateProgress writes only the progress columns so it never races a status change.
func (s *Store) updateProgress(id string, p Progress) error {
	_, err := s.db.Exec(`
		UPDATE pulse_jobs
		SET progress_current = ?, progress_total = ?, updated_at = ?
		WHERE id = ?`,
		p.Current, p.Total, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update job progress")
	}
	return nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM pulse_jobs`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// listRunnable returns queued and retrying jobs due at now, oldest first.
// run_at is stored as UTC text, so the comparison is lexical.
func (s *Store) listRunnable(now time.Time, limit int) ([]*Job, error) {
	rows, err := s.db.Query(`SELECT `+jobSelectColumns+`
		FROM pulse_jobs
		WHERE status IN ('queued', 'retrying')
		  AND (run_at IS NULL OR run_at <= ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runnable jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "runnable jobs")
}

func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return jobs, nil
}

// CountByStatus returns job counts grouped by status, optionally limited to handlers.
func (s *Store) CountByStatus(handlers []string) (map[JobStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM pulse_jobs`
	var args []interface{}
	if len(handlers) > 0 {
		query += ` WHERE handler_name IN (` + placeholders(len(handlers)) + `)`
		for _, h := range handlers {
			args = append(args, h)
		}
	}
	query += ` GROUP BY status`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}
	return counts, nil
}

// DeleteJobs removes jobs in any of statuses whose handler is in handlers.
// An empty handlers list matches every handler.
func (s *Store) DeleteJobs(handlers []string, statuses []JobStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	query := `DELETE FROM pulse_jobs WHERE status IN (` + placeholders(len(statuses)) + `)`
	args := make([]interface{}, 0, len(statuses)+len(handlers))
	for _, st := range statuses {
		args = append(args, st)
	}
	if len(handlers) > 0 {
		query += ` AND handler_name IN (` + placeholders(len(handlers)) + `)`
		for _, h := range handlers {
			args = append(args, h)
		}
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

// CleanupOldJobs removes completed/failed jobs older than the specified duration
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	res, err := s.db.Exec(`
		DELETE FROM pulse_jobs
		WHERE status IN ('completed', 'failed')
		  AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
