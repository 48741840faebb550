// Package orchestrator is the entry point for scheduling imports and
// inspecting import jobs. It only talks to the durable queue; workers may
// live in another process.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/dailyix/am"
	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/ixgest/tabular"
	"github.com/teranos/dailyix/logger"
	"github.com/teranos/dailyix/pulse/async"
	"github.com/teranos/dailyix/uploads"
)

// ImportHandlers are the handler names counted as import jobs.
var ImportHandlers = []string{
	tabular.DailiesHandlerName,
	tabular.DailyHealthPillarsHandlerName,
	uploads.HandlerName,
}

// Status values reported for a freshly enqueued job.
const StatusEnqueued = "enqueued"

// ScheduleOptions are the per-call import options plus scheduling knobs
// and caller metadata carried into the job payload.
type ScheduleOptions struct {
	tabular.Options
	// DelaySeconds postpones the pillars job in ImportFullDataset
	DelaySeconds *int `json:"delay_seconds,omitempty"`
	// StaggerSeconds spaces jobs in BatchImportDailies
	StaggerSeconds *int   `json:"stagger_seconds,omitempty"`
	UserEmail      string `json:"user_email,omitempty"`
	ImportType     string `json:"import_type,omitempty"`
}

// Receipt describes one enqueued job.
type Receipt struct {
	JobID         string          `json:"job_id"`
	Handler       string          `json:"handler"`
	FileReference string          `json:"file_path"`
	Status        string          `json:"status"`
	RunAt         *time.Time      `json:"run_at,omitempty"`
	Options       tabular.Options `json:"options"`
}

// FullDatasetReceipt describes the dailies then pillars pair.
type FullDatasetReceipt struct {
	Dailies  *Receipt      `json:"dailies"`
	Pillars  *Receipt      `json:"pillars"`
	Delay    time.Duration `json:"delay"`
	Status   string        `json:"status"`
	Sequence string        `json:"sequence"`
}

// BatchReceipt describes a staggered set of dailies jobs.
type BatchReceipt struct {
	Jobs      []*Receipt `json:"jobs"`
	FileCount int        `json:"file_count"`
	Status    string     `json:"status"`
}

// WorkerGauge reports busy workers. *async.WorkerPool satisfies it.
type WorkerGauge interface {
	ActiveWorkers() int
}

// Orchestrator schedules import jobs on the queue.
type Orchestrator struct {
	queue      *async.Queue
	cfg        am.ImportConfig
	maxRetries int
	workers    WorkerGauge
	logger     *zap.SugaredLogger
}

// New creates an orchestrator. maxRetries < 0 selects the queue default.
func New(queue *async.Queue, cfg am.ImportConfig, maxRetries int, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = logger.Logger
	}
	return &Orchestrator{
		queue:      queue,
		cfg:        cfg,
		maxRetries: maxRetries,
		logger:     log.Named("orchestrator"),
	}
}

// SetWorkerGauge makes ImportStats report live busy workers instead of
// the number of processing jobs.
func (o *Orchestrator) SetWorkerGauge(g WorkerGauge) {
	o.workers = g
}

// ImportDailies enqueues a dailies import.
func (o *Orchestrator) ImportDailies(ref string, opts ScheduleOptions) (*Receipt, error) {
	return o.enqueue(tabular.FileTypeDailies, ref, opts, 0)
}

// ImportDailyHealthPillars enqueues a relationship import.
func (o *Orchestrator) ImportDailyHealthPillars(ref string, opts ScheduleOptions) (*Receipt, error) {
	return o.enqueue(tabular.FileTypeDailyHealthPillars, ref, opts, 0)
}

// ImportFullDataset enqueues the dailies import now and the relationship
// import after the configured delay so the parents exist first.
func (o *Orchestrator) ImportFullDataset(dailiesRef, pillarsRef string, opts ScheduleOptions) (*FullDatasetReceipt, error) {
	delay := seconds(opts.DelaySeconds, o.cfg.FullDatasetDelaySeconds)

	dailies, err := o.enqueue(tabular.FileTypeDailies, dailiesRef, opts, 0)
	if err != nil {
		return nil, err
	}
	pillars, err := o.enqueue(tabular.FileTypeDailyHealthPillars, pillarsRef, opts, delay)
	if err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("Dailies job already enqueued: %s", dailies.JobID))
	}

	o.logger.Infow("Enqueued sequential import jobs",
		"dailies_job_id", dailies.JobID,
		"pillars_job_id", pillars.JobID,
		"delay", delay)

	return &FullDatasetReceipt{
		Dailies:  dailies,
		Pillars:  pillars,
		Delay:    delay,
		Status:   StatusEnqueued,
		Sequence: "dailies_first_then_pillars",
	}, nil
}

// BatchImportDailies enqueues one dailies job per ref; job i runs
// stagger × i after now.
func (o *Orchestrator) BatchImportDailies(refs []string, opts ScheduleOptions) (*BatchReceipt, error) {
	if len(refs) == 0 {
		return nil, errors.NewInvalidRequestError("at least one file reference is required")
	}
	stagger := seconds(opts.StaggerSeconds, o.cfg.BatchStaggerSeconds)

	out := &BatchReceipt{FileCount: len(refs), Status: StatusEnqueued}
	for i, ref := range refs {
		r, err := o.enqueue(tabular.FileTypeDailies, ref, opts, stagger*time.Duration(i))
		if err != nil {
			return out, errors.WithDetail(err, fmt.Sprintf("Enqueued %d of %d before failing", i, len(refs)))
		}
		out.Jobs = append(out.Jobs, r)
	}

	o.logger.Infow("Enqueued batch import jobs", "count", len(out.Jobs), "stagger", stagger)
	return out, nil
}

// EnqueueUpload schedules processing for a stored upload.
func (o *Orchestrator) EnqueueUpload(u *uploads.Upload) (*Receipt, error) {
	job, err := uploads.NewJob(u, o.maxRetries)
	if err != nil {
		return nil, err
	}
	if err := o.queue.Enqueue(job); err != nil {
		return nil, err
	}
	o.logger.Infow("Enqueued upload job", logger.FieldJobID, job.ID, "upload_id", u.ID)
	return receipt(job, tabular.Options{}), nil
}

func (o *Orchestrator) enqueue(kind tabular.FileType, ref string, opts ScheduleOptions, delay time.Duration) (*Receipt, error) {
	ref = strings.TrimSpace(ref)
	job, err := tabular.NewImportJob(kind, tabular.ImportPayload{
		FileReference: ref,
		Options:       opts.Options,
		UserEmail:     opts.UserEmail,
		ImportType:    opts.ImportType,
	}, o.maxRetries)
	if err != nil {
		return nil, err
	}
	job.Delay(delay)

	if err := o.queue.Enqueue(job); err != nil {
		return nil, err
	}

	o.logger.Infow("Enqueued import job",
		logger.FieldJobID, job.ID,
		logger.FieldHandler, job.HandlerName,
		logger.FieldReference, ref,
		"delay", delay)
	return receipt(job, opts.Options), nil
}

func receipt(job *async.Job, opts tabular.Options) *Receipt {
	return &Receipt{
		JobID:         job.ID,
		Handler:       job.HandlerName,
		FileReference: job.Source,
		Status:        StatusEnqueued,
		RunAt:         job.RunAt,
		Options:       opts,
	}
}

func seconds(override *int, fallback int) time.Duration {
	n := fallback
	if override != nil {
		n = *override
	}
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second
}

// StatusReport is what JobStatus returns.
type StatusReport struct {
	JobID         string          `json:"job_id"`
	Handler       string          `json:"handler"`
	FileReference string          `json:"file_path"`
	Status        async.JobStatus `json:"status"`
	Attempts      int             `json:"attempts"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	Progress      async.Progress  `json:"progress"`
	Percentage    float64         `json:"percentage"`
	LastError     string          `json:"last_error,omitempty"`
	RunAt         *time.Time      `json:"run_at,omitempty"`
	Result        *tabular.Result `json:"result,omitempty"`
}

// JobStatus reports the state of job id. Unknown ids return ErrNotFound.
func (o *Orchestrator) JobStatus(id string) (*StatusReport, error) {
	job, err := o.queue.GetJob(id)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		JobID:         job.ID,
		Handler:       job.HandlerName,
		FileReference: job.Source,
		Status:        job.Status,
		Attempts:      job.Attempts(),
		RetryCount:    job.RetryCount,
		MaxRetries:    job.MaxRetries,
		Progress:      job.Progress,
		Percentage:    tabular.Percentage(job.Progress.Current, job.Progress.Total),
		LastError:     job.Error,
		RunAt:         job.RunAt,
	}
	if len(job.Result) > 0 {
		var res tabular.Result
		if err := json.Unmarshal(job.Result, &res); err != nil {
			o.logger.Warnw("Stored job result is not an import result", logger.FieldJobID, id, logger.FieldError, err)
		} else {
			report.Result = &res
		}
	}
	return report, nil
}

// Stats summarizes the queue for import operators.
type Stats struct {
	TotalEnqueued    int     `json:"total_enqueued"`
	TotalProcessed   int     `json:"total_processed"`
	TotalFailed      int     `json:"total_failed"`
	ImportJobsQueued int     `json:"import_jobs_queued"`
	WorkersBusy      int     `json:"workers_busy"`
	QueueLatency     float64 `json:"queue_latency"` // seconds the oldest due job has waited
}

// ImportStats reports queue-wide counters and import-specific backlog.
func (o *Orchestrator) ImportStats() (*Stats, error) {
	all, err := o.queue.GetStats()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read queue stats")
	}
	imports, err := o.queue.GetStats(ImportHandlers...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read import stats")
	}
	latency, err := o.queue.OldestDueAge(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read queue latency")
	}

	busy := all.Processing
	if o.workers != nil {
		busy = o.workers.ActiveWorkers()
	}

	return &Stats{
		TotalEnqueued:    all.Queued + all.Retrying,
		TotalProcessed:   all.Completed + all.Failed,
		TotalFailed:      all.Failed,
		ImportJobsQueued: imports.Queued + imports.Retrying,
		WorkersBusy:      busy,
		QueueLatency:     latency.Seconds(),
	}, nil
}

// ClearResult counts what ClearFailedImportJobs removed.
type ClearResult struct {
	DeadJobsCleared  int `json:"dead_jobs_cleared"`
	RetryJobsCleared int `json:"retry_jobs_cleared"`
	TotalCleared     int `json:"total_cleared"`
}

// ClearFailedImportJobs deletes dead-lettered and retrying import jobs.
// Jobs of other handlers are left alone.
func (o *Orchestrator) ClearFailedImportJobs() (*ClearResult, error) {
	dead, err := o.queue.DeleteJobs(ImportHandlers, []async.JobStatus{async.JobStatusFailed})
	if err != nil {
		return nil, errors.Wrap(err, "failed to clear dead import jobs")
	}
	retrying, err := o.queue.DeleteJobs(ImportHandlers, []async.JobStatus{async.JobStatusRetrying})
	if err != nil {
		return nil, errors.Wrap(err, "failed to clear retrying import jobs")
	}

	o.logger.Infow("Cleared failed import jobs", "dead", dead, "retrying", retrying)
	return &ClearResult{
		DeadJobsCleared:  dead,
		RetryJobsCleared: retrying,
		TotalCleared:     dead + retrying,
	}, nil
}

// Validation is the outcome of ValidateImportFile.
type Validation struct {
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors"`
	FileReference string   `json:"file_path"`
	ImportType    string   `json:"import_type"`
}

// ValidateImportFile checks a reference before enqueueing. Local files must
// exist and be readable; remote files are checked when the job stages them.
func (o *Orchestrator) ValidateImportFile(ref, importType string) *Validation {
	v := &Validation{Errors: []string{}, FileReference: ref, ImportType: importType}

	if tabular.IsRemote(ref) {
		o.logger.Infow("Remote file validation deferred to job execution", logger.FieldReference, ref)
	} else {
		path := strings.TrimPrefix(ref, "file://")
		info, err := os.Stat(path)
		switch {
		case err != nil:
			v.Errors = append(v.Errors, fmt.Sprintf("File not found: %s", ref))
			v.Errors = append(v.Errors, fmt.Sprintf("File not readable: %s", ref))
		case info.IsDir():
			v.Errors = append(v.Errors, fmt.Sprintf("File not readable: %s", ref))
		default:
			if f, err := os.Open(path); err != nil {
				v.Errors = append(v.Errors, fmt.Sprintf("File not readable: %s", ref))
			} else {
				f.Close()
			}
		}
	}

	if _, err := tabular.ParseFileType(importType); err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("Invalid import type: %s", importType))
	}

	v.Valid = len(v.Errors) == 0
	return v
}
