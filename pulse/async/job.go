// Package async provides durable background jobs with retry and dead-letter handling.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/dailyix/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed" // retries exhausted; kept as dead-letter
)

// DefaultMaxRetries gives four executions in total.
const DefaultMaxRetries = 3

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusProcessing, JobStatusRetrying,
		JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no worker will pick the job up again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Progress represents job progress information
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Percentage calculates progress as a percentage (0-100).
// An empty run counts as done.
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job is one durable unit of background work.
//
// The queue knows nothing about payloads; HandlerName routes the job to a
// JobHandler that decodes Payload and may set Result.
type Job struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Source      string          `json:"source"` // file reference, for logs and dead-letter triage
	Status      JobStatus       `json:"status"`
	Progress    Progress        `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	RunAt       *time.Time      `json:"run_at,omitempty"` // not due before this instant
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJobWithPayload creates a queued job for handlerName.
// maxRetries < 0 selects DefaultMaxRetries.
//
//	payload, _ := json.Marshal(ImportPayload{FileReference: "s3://bucket/dailies.csv"})
//	job, _ := async.NewJobWithPayload("ixgest.dailies", "s3://bucket/dailies.csv", payload, -1)
func NewJobWithPayload(handlerName string, source string, payload json.RawMessage, maxRetries int) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		Status:      JobStatusQueued,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Delay schedules the job's first execution d from now.
func (j *Job) Delay(d time.Duration) {
	if d <= 0 {
		j.RunAt = nil
		return
	}
	at := time.Now().UTC().Add(d)
	j.RunAt = &at
}

// IsDue reports whether the job may run at now.
func (j *Job) IsDue(now time.Time) bool {
	return j.RunAt == nil || !j.RunAt.After(now)
}

// Attempts is the number of executions started so far.
func (j *Job) Attempts() int {
	if j.StartedAt == nil {
		return 0
	}
	return j.RetryCount + 1
}

// Start marks the job as processing
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed
func (j *Job) Complete() {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.Error = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as dead-lettered with its last error
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	if err != nil {
		j.Error = err.Error()
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// ScheduleRetry records err and makes the job due again after delay.
func (j *Job) ScheduleRetry(err error, delay time.Duration) {
	now := time.Now().UTC()
	j.RetryCount++
	j.Status = JobStatusRetrying
	if err != nil {
		j.Error = err.Error()
	}
	at := now.Add(delay)
	j.RunAt = &at
	j.UpdatedAt = now
}

// CanRetry reports whether another execution is allowed after a failure.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// UpdateProgress updates the job's progress
func (j *Job) UpdateProgress(p Progress) {
	j.Progress = p
	j.UpdatedAt = time.Now().UTC()
}

// SetResult stores v as the job's JSON result.
func (j *Job) SetResult(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal result for job %s", j.ID)
	}
	j.Result = data
	return nil
}

// RetryBackoff returns the delay before retry number n (1-based).
func RetryBackoff(step time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return step * time.Duration(n)
}
