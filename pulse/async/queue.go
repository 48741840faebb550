package async

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/dailyix/errors"
)

const (
	// MaxJobsLimit caps how many due jobs a single dequeue inspects
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
	// DefaultRetryBackoff is the delay step between retries (10s, 20s, 30s)
	DefaultRetryBackoff = 10 * time.Second
)

// Queue is the durable job queue shared by producers and the worker pool.
type Queue struct {
	store        *Store
	retryBackoff time.Duration
	now          func() time.Time
	scanLimit    int
	mu           sync.RWMutex
	subscribers  []chan *Job
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:        NewStore(db),
		retryBackoff: DefaultRetryBackoff,
		now:          func() time.Time { return time.Now().UTC() },
		scanLimit:    MaxJobsLimit,
		subscribers:  make([]chan *Job, 0),
	}
}

// SetRetryBackoff changes the delay step applied by FailJob.
func (q *Queue) SetRetryBackoff(step time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retryBackoff = step
}

// Store exposes the underlying store for read-only reporting.
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// Dequeue claims the oldest due queued or retrying job and marks it processing.
// Returns nil, nil when nothing is due.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates, err := q.store.listRunnable(q.now(), q.scanLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get runnable jobs")
	}

	for _, job := range candidates {
		job.Start()
		claimed, err := q.store.claimJob(job)
		if err != nil {
			err = errors.Wrap(err, "failed to mark job as processing")
			err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
			err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
			return nil, err
		}
		if !claimed {
			// Another process took it between list and claim
			continue
		}

		q.notifySubscribers(job)
		return job, nil
	}

	return nil, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(id)
}

// UpdateJob updates a job's state
func (q *Queue) UpdateJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// UpdateProgress records progress for a running job without touching its status.
func (q *Queue) UpdateProgress(id string, p Progress) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if err := q.store.updateProgress(id, p); err != nil {
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	return nil
}

// CompleteJob marks job completed and persists its result.
func (q *Queue) CompleteJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job.Complete()
	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to complete job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// FailJob records a failed execution. The job goes back to retrying with a
// linear backoff while retries remain, otherwise it stays failed as a
// dead-letter. Returns the status the job was left in.
func (q *Queue) FailJob(job *Job, jobErr error) (JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.CanRetry() {
		job.ScheduleRetry(jobErr, RetryBackoff(q.retryBackoff, job.RetryCount+1))
	} else {
		job.Fail(jobErr)
	}

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to record job failure")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		if jobErr != nil {
			err = errors.WithDetail(err, fmt.Sprintf("Job error: %s", jobErr.Error()))
		}
		return job.Status, err
	}

	q.notifySubscribers(job)
	return job.Status, nil
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(status, limit)
}

// DeleteJobs removes jobs matching handlers and statuses.
func (q *Queue) DeleteJobs(handlers []string, statuses []JobStatus) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.DeleteJobs(handlers, statuses)
}

// Cleanup removes old completed/failed jobs
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(olderThan)
}

// OldestDueAge returns how long the oldest due job has been waiting, or 0 when none is due.
func (q *Queue) OldestDueAge(handlers []string) (time.Duration, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := q.now()
	candidates, err := q.store.listRunnable(now, q.scanLimit)
	if err != nil {
		return 0, err
	}

	for _, job := range candidates {
		if len(handlers) > 0 && !contains(handlers, job.HandlerName) {
			continue
		}
		waitingSince := job.CreatedAt
		if job.RunAt != nil && job.RunAt.After(waitingSince) {
			waitingSince = *job.RunAt
		}
		return now.Sub(waitingSince), nil
	}
	return 0, nil
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is not closed; the caller owns it.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a snapshot of job to every subscriber.
// REQUIRES: q.mu held. Slow subscribers miss updates rather than block.
func (q *Queue) notifySubscribers(job *Job) {
	if len(q.subscribers) == 0 {
		return
	}
	snapshot := *job
	for _, ch := range q.subscribers {
		select {
		case ch <- &snapshot:
		default:
		}
	}
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Retrying   int `json:"retrying"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// GetStats returns queue statistics, optionally limited to handlers
func (q *Queue) GetStats(handlers ...string) (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountByStatus(handlers)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		Queued:     counts[JobStatusQueued],
		Processing: counts[JobStatusProcessing],
		Retrying:   counts[JobStatusRetrying],
		Completed:  counts[JobStatusCompleted],
		Failed:     counts[JobStatusFailed],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
