package uploads

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/ixgest/tabular"
	"github.com/teranos/dailyix/logger"
	"github.com/teranos/dailyix/pulse/async"
)

// HandlerName is the job handler for uploaded files.
const HandlerName = "ixgest.upload"

// Payload is the job payload for HandlerName.
type Payload struct {
	UploadID int64 `json:"upload_id"`
}

// NewJob builds a queued job for upload u.
func NewJob(u *Upload, maxRetries int) (*async.Job, error) {
	if u.ID == 0 {
		return nil, errors.NewInvalidRequestError("upload has no id")
	}
	data, err := json.Marshal(Payload{UploadID: u.ID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode upload payload")
	}
	return async.NewJobWithPayload(HandlerName, u.Source, data, maxRetries)
}

// Handler stages an uploaded file, normalizes it to CSV and runs the
// matching import. The upload row follows the job: processing while it
// runs, then completed or failed.
type Handler struct {
	store    *Store
	pipeline *tabular.Pipeline
	logger   *zap.SugaredLogger
}

// NewHandler creates the upload handler.
func NewHandler(store *Store, pipeline *tabular.Pipeline, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = logger.Logger
	}
	return &Handler{store: store, pipeline: pipeline, logger: log.Named("uploads")}
}

// Name returns the handler identifier
func (h *Handler) Name() string {
	return HandlerName
}

// Execute processes one upload.
func (h *Handler) Execute(ctx context.Context, job *async.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to decode upload payload"), errors.ErrInvalidRequest)
	}

	u, err := h.store.Get(ctx, payload.UploadID)
	if err != nil {
		return err
	}
	if err := h.store.MarkProcessing(ctx, u.ID, job.ID); err != nil {
		return err
	}

	log := h.logger.With(logger.FieldJobID, job.ID, "upload_id", u.ID, logger.FieldReference, u.Source)
	res, runErr := h.process(ctx, u, job)
	if runErr != nil {
		if err := h.store.MarkFailed(ctx, u.ID, runErr.Error()); err != nil {
			log.Warnw("Failed to mark upload failed", logger.FieldError, err)
		}
		err := errors.Wrapf(runErr, "upload %d failed", u.ID)
		err = errors.WithDetail(err, fmt.Sprintf("File: %s", u.Filename))
		err = errors.WithDetail(err, fmt.Sprintf("Type: %s", u.FileType))
		return err
	}

	if err := h.store.MarkCompleted(ctx, u.ID); err != nil {
		return err
	}
	log.Infow("Upload processed",
		"file_type", u.FileType,
		"processed_rows", res.ProcessedRows,
		"row_errors", len(res.Errors))
	return nil
}

// process stages, normalizes and imports u. Every temporary artifact is
// removed before it returns.
func (h *Handler) process(ctx context.Context, u *Upload, job *async.Job) (*tabular.Result, error) {
	kind, err := tabular.ParseFileType(string(u.FileType))
	if err != nil {
		return nil, errors.Wrap(err, "unsupported file type")
	}

	staged, err := h.pipeline.Stager().Stage(ctx, u.Source)
	if err != nil {
		return nil, err
	}
	defer staged.Cleanup()

	if err := h.pipeline.Stager().Normalize(staged); err != nil {
		return nil, errors.Wrap(err, "failed to convert spreadsheet to CSV")
	}

	res, err := h.pipeline.ImportStaged(ctx, kind, staged, tabular.Options{}, nil)
	if res != nil {
		job.Progress = async.Progress{Current: res.ProcessedRows, Total: res.TotalRows}
		if setErr := job.SetResult(res); setErr != nil {
			h.logger.Warnw("Failed to store upload result", logger.FieldJobID, job.ID, logger.FieldError, setErr)
		}
	}
	return res, err
}
