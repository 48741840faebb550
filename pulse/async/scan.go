package async

import (
	"database/sql"
	"time"
)

// jobScanArgs holds the nullable columns of a pulse_jobs row.
type jobScanArgs struct {
	Payload     sql.NullString
	Result      sql.NullString
	ErrorMsg    sql.NullString
	RunAt       sql.NullTime
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// jobScanTargets returns scan destinations in jobSelectColumns order.
func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.HandlerName,
		&job.Source,
		&job.Status,
		&job.Progress.Current,
		&job.Progress.Total,
		&args.Payload,
		&args.Result,
		&args.ErrorMsg,
		&job.RetryCount,
		&job.MaxRetries,
		&args.RunAt,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

func (args *jobScanArgs) apply(job *Job) {
	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.Result.Valid {
		job.Result = []byte(args.Result.String)
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	job.RunAt = utcPtr(args.RunAt)
	job.StartedAt = utcPtr(args.StartedAt)
	job.CompletedAt = utcPtr(args.CompletedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
}

func utcPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// scanJob scans one job from a row.
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args jobScanArgs
	if err := row.Scan(jobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	args.apply(&job)
	return &job, nil
}

const jobSelectColumns = `id, handler_name, source, status,
		progress_current, progress_total,
		payload, result, error,
		retry_count, max_retries, run_at,
		created_at, started_at, completed_at, updated_at`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}
