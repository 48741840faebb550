package async

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/logger"
)

// MaxOrphanedJobsToRecover limits how many orphaned jobs are requeued on startup
const MaxOrphanedJobsToRecover = 1000

// pulseLogger wraps zap.SugaredLogger with level conventions for pool lifecycle:
// Starting at DEBUG, Closing at WARN, everything else at INFO.
type pulseLogger struct {
	*zap.SugaredLogger
}

func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(msg, keysAndValues...)
}

func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// JobObserver receives job lifecycle events, e.g. for metrics.
type JobObserver interface {
	JobStarted(job *Job)
	JobFinished(job *Job, status JobStatus, elapsed time.Duration, failure *ErrorContext)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers           int           `json:"workers"`
	PollInterval      time.Duration `json:"poll_interval"`       // idle wait between dequeue attempts
	RetryBackoff      time.Duration `json:"retry_backoff"`       // step for 1x, 2x, 3x retry delays
	RecoveryPerSecond float64       `json:"recovery_per_second"` // orphan requeue pace
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:           1,
		PollInterval:      time.Second,
		RetryBackoff:      DefaultRetryBackoff,
		RecoveryPerSecond: 20,
		ShutdownTimeout:   30 * time.Second,
	}
}

// WorkerPool runs jobs from the queue on a fixed number of goroutines.
// Each worker executes one job at a time.
type WorkerPool struct {
	queue         *Queue
	db            *sql.DB
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	executor      JobExecutor
	registry      *HandlerRegistry
	observer      JobObserver
	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a worker pool bound to ctx.
// Register handlers on registry before calling Start().
func NewWorkerPool(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, log *zap.SugaredLogger, registry *HandlerRegistry) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = defaults.PollInterval
	}
	if poolCfg.RetryBackoff <= 0 {
		poolCfg.RetryBackoff = defaults.RetryBackoff
	}
	if poolCfg.RecoveryPerSecond <= 0 {
		poolCfg.RecoveryPerSecond = defaults.RecoveryPerSecond
	}
	if poolCfg.ShutdownTimeout <= 0 {
		poolCfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if log == nil {
		log = logger.Logger
	}
	if registry == nil {
		registry = NewHandlerRegistry()
	}

	workerCtx, cancel := context.WithCancel(ctx)

	queue := NewQueue(db)
	queue.SetRetryBackoff(poolCfg.RetryBackoff)

	return &WorkerPool{
		queue:      queue,
		db:         db,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		executor:   NewRegistryExecutor(registry),
		registry:   registry,
		logger:     pulseLogger{log.Named("pulse")},
	}
}

// SetObserver installs a lifecycle observer. Call before Start().
func (wp *WorkerPool) SetObserver(o JobObserver) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.observer = o
}

// Start recovers orphaned jobs and launches the workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		// Restart after Stop()
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", logger.FieldError, err)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	wp.logger.Pulse("Worker pool started",
		"workers", wp.workers,
		"handlers", wp.registry.Names(),
		"poll_interval", wp.poolConfig.PollInterval)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels the workers and waits up to ShutdownTimeout for in-flight jobs.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Pulse("WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(wp.poolConfig.ShutdownTimeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be running", "timeout", wp.poolConfig.ShutdownTimeout)
	}
}

// Wait blocks until every worker has exited.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// recoverOrphanedJobs requeues jobs left in processing by a crash.
// Requeues are paced so a large backlog does not stampede the workers.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	processing := JobStatusProcessing
	orphaned, err := wp.queue.ListJobs(&processing, MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list processing jobs")
	}
	if len(orphaned) == 0 {
		return nil
	}

	wp.logger.Starting("Found orphaned jobs from previous run", "count", len(orphaned))

	limiter := rate.NewLimiter(rate.Limit(wp.poolConfig.RecoveryPerSecond), 1)
	recovered := 0
	for _, job := range orphaned {
		if err := limiter.Wait(wp.ctx); err != nil {
			wp.logger.Closing("Orphan recovery cancelled", "recovered", recovered, "total", len(orphaned))
			return nil
		}
		if err := wp.requeueOrphanedJob(job); err != nil {
			wp.logger.Warnw("Failed to recover orphaned job", logger.FieldJobID, job.ID, logger.FieldError, err)
			continue
		}
		recovered++
	}

	wp.logger.Pulse("Orphan recovery complete", "recovered", recovered, "total", len(orphaned))
	return nil
}

// requeueOrphanedJob puts an interrupted job back without charging a retry.
func (wp *WorkerPool) requeueOrphanedJob(job *Job) error {
	job.Status = JobStatusQueued
	job.UpdatedAt = time.Now().UTC()

	if err := wp.queue.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to update recovered job %s", job.ID)
	}

	wp.logger.Starting("Recovered orphaned job", logger.FieldJobID, job.ID, logger.FieldHandler, job.HandlerName)
	return nil
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
		}

		// Drain due jobs before waiting for the next tick
		for {
			processed, err := wp.processNextJob()
			if err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					return
				}

				errorCount++
				wp.logger.Errorw("Worker error processing job",
					"worker_id", id,
					logger.FieldError, err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					wp.logger.Warnw("Worker backing off due to consecutive errors",
						"worker_id", id,
						"backoff", backoffDuration,
						"consecutive_errors", errorCount)
					select {
					case <-wp.ctx.Done():
						return
					case <-time.After(backoffDuration):
					}
					backoffDuration = min(backoffDuration*2, maxBackoff)
				}
				break
			}

			if errorCount > 0 {
				wp.logger.Infow("Worker recovered from errors",
					"worker_id", id,
					"previous_error_count", errorCount)
			}
			errorCount = 0
			backoffDuration = time.Second

			if !processed {
				break
			}
		}
	}
}

// processNextJob runs at most one job. It reports whether a job was taken.
func (wp *WorkerPool) processNextJob() (bool, error) {
	select {
	case <-wp.ctx.Done():
		return false, nil
	default:
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return false, errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return false, nil
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	observer := wp.observer
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	log := wp.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldHandler, job.HandlerName,
		logger.FieldReference, job.Source,
		logger.FieldAttempt, job.RetryCount+1,
	)
	log.Infow("Job started")
	if observer != nil {
		observer.JobStarted(job)
	}

	started := time.Now()
	ctx := logger.WithComponent(logger.WithJobID(wp.ctx, job.ID), job.HandlerName)
	execErr := wp.execute(ctx, job)
	elapsed := time.Since(started)

	if execErr == nil {
		if err := wp.queue.CompleteJob(job); err != nil {
			return true, err
		}
		log.Infow("Job completed", logger.FieldDuration, elapsed)
		if observer != nil {
			observer.JobFinished(job, JobStatusCompleted, elapsed, nil)
		}
		return true, nil
	}

	// Shutdown interrupted the run; put it back without charging a retry
	select {
	case <-wp.ctx.Done():
		wp.logger.Closing("Job cancelled during execution, re-queuing", logger.FieldJobID, job.ID)
		job.Status = JobStatusQueued
		job.UpdatedAt = time.Now().UTC()
		if updateErr := wp.queue.UpdateJob(job); updateErr != nil {
			wp.logger.Errorw("Failed to re-queue cancelled job", logger.FieldJobID, job.ID, logger.FieldError, updateErr)
		}
		return true, nil
	default:
	}

	failure := ClassifyError(job.HandlerName, execErr)
	status, err := wp.queue.FailJob(job, execErr)
	if err != nil {
		return true, err
	}

	if status == JobStatusRetrying {
		log.Warnw("Job failed, retry scheduled",
			logger.FieldError, execErr.Error(),
			logger.FieldErrorCode, failure.Code,
			"retry_count", job.RetryCount,
			"max_retries", job.MaxRetries,
			"run_at", job.RunAt)
	} else {
		log.Errorw("Job failed permanently",
			logger.FieldError, execErr.Error(),
			logger.FieldErrorCode, failure.Code,
			"attempts", job.RetryCount+1,
			"details", errors.GetAllDetails(execErr))
	}
	if observer != nil {
		observer.JobFinished(job, status, elapsed, &failure)
	}
	return true, nil
}

// execute runs the handler, turning a panic into an error.
func (wp *WorkerPool) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler %s panicked: %v", job.HandlerName, r)
			err = errors.WithDetail(err, string(debug.Stack()))
		}
	}()
	return wp.executor.Execute(ctx, job)
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// ActiveWorkers returns how many workers are executing a job right now.
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}

// Registry returns the handler registry.
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}

// String is used in startup logs.
func (wp *WorkerPool) String() string {
	return fmt.Sprintf("WorkerPool{workers: %d, handlers: %v}", wp.workers, wp.registry.Names())
}
