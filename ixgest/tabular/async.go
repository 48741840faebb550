package tabular

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/pulse/async"
)

// Handler names for import jobs.
const (
	DailiesHandlerName            = "ixgest.dailies"
	DailyHealthPillarsHandlerName = "ixgest.daily_health_pillars"
)

// HandlerName returns the job handler name for kind.
func HandlerName(kind FileType) string {
	if kind == FileTypeDailyHealthPillars {
		return DailyHealthPillarsHandlerName
	}
	return DailiesHandlerName
}

// ImportPayload is the job payload for import handlers.
type ImportPayload struct {
	FileReference string  `json:"file_reference"`
	Options       Options `json:"options"`
	UserEmail     string  `json:"user_email,omitempty"`
	ImportType    string  `json:"import_type,omitempty"`
	UploadID      int64   `json:"upload_id,omitempty"`
}

// NewImportJob builds a queued job for kind. maxRetries < 0 selects the default.
func NewImportJob(kind FileType, payload ImportPayload, maxRetries int) (*async.Job, error) {
	if payload.FileReference == "" {
		return nil, errors.NewInvalidRequestError("file reference is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode import payload")
	}
	return async.NewJobWithPayload(HandlerName(kind), payload.FileReference, data, maxRetries)
}

// ImportHandler runs one kind of import as an async job.
type ImportHandler struct {
	kind     FileType
	pipeline *Pipeline
	queue    *async.Queue
	logger   *zap.SugaredLogger
}

// NewImportHandler creates a handler for kind. queue may be nil, in which
// case progress is only logged.
func NewImportHandler(kind FileType, pipeline *Pipeline, queue *async.Queue, logger *zap.SugaredLogger) *ImportHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ImportHandler{
		kind:     kind,
		pipeline: pipeline,
		queue:    queue,
		logger:   logger,
	}
}

// Name returns the handler identifier
func (h *ImportHandler) Name() string {
	return HandlerName(h.kind)
}

// Execute runs the import. The result summary is stored on the job whether
// or not the run succeeded; a returned error sends the job to retry.
func (h *ImportHandler) Execute(ctx context.Context, job *async.Job) error {
	var payload ImportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to decode import payload"), errors.ErrInvalidRequest)
	}
	if payload.FileReference == "" {
		payload.FileReference = job.Source
	}

	progress := newJobProgress(h.queue, job.ID, h.logger)
	res, runErr := h.pipeline.Import(ctx, h.kind, payload.FileReference, payload.Options, progress)
	progress.Close()

	if res != nil {
		job.Progress = async.Progress{Current: res.ProcessedRows, Total: res.TotalRows}
		if err := job.SetResult(res); err != nil {
			h.logger.Warnw("Failed to store import result", "job_id", job.ID, "error", err)
		}
	}

	if runErr != nil {
		err := errors.Wrapf(runErr, "%s import failed", h.kind)
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Attempt: %d of %d", job.RetryCount+1, job.MaxRetries+1))
		return err
	}

	h.logger.Infow("Import job completed",
		"job_id", job.ID,
		"reference", payload.FileReference,
		"processed_rows", res.ProcessedRows,
		"row_errors", len(res.Errors),
	)
	return nil
}

// jobProgress forwards pipeline progress to the job store from its own
// goroutine so a batch transaction never waits on a progress write.
// Only the latest value is kept.
type jobProgress struct {
	queue   *async.Queue
	jobID   string
	logger  *zap.SugaredLogger
	updates chan async.Progress
	done    chan struct{}
	once    sync.Once
}

func newJobProgress(queue *async.Queue, jobID string, logger *zap.SugaredLogger) *jobProgress {
	p := &jobProgress{
		queue:   queue,
		jobID:   jobID,
		logger:  logger,
		updates: make(chan async.Progress, 1),
		done:    make(chan struct{}),
	}
	go p.flush()
	return p
}

func (p *jobProgress) ReportProgress(current, total int) {
	next := async.Progress{Current: current, Total: total}
	for {
		select {
		case p.updates <- next:
			return
		default:
		}
		// drop the stale value and try again
		select {
		case <-p.updates:
		default:
		}
	}
}

func (p *jobProgress) flush() {
	defer close(p.done)
	for u := range p.updates {
		if p.queue == nil {
			continue
		}
		if err := p.queue.UpdateProgress(p.jobID, u); err != nil {
			p.logger.Debugw("Progress update failed", "job_id", p.jobID, "error", err)
		}
	}
}

// Close waits for the last pending update to be written.
func (p *jobProgress) Close() {
	p.once.Do(func() {
		close(p.updates)
		<-p.done
	})
}
