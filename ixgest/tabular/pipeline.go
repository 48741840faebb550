// Package tabular imports dailies and their health pillar links from CSV
// and spreadsheet files.
//
// One call to Pipeline.Import is one import run: stage the file, check its
// header, then reconcile rows in transactional batches under an error
// budget. Runs never share state; the store serializes concurrent writers.
package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/dailyix/am"
	"github.com/teranos/dailyix/catalog"
	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/logger"
)

// FileType selects the importer for a file.
type FileType string

const (
	FileTypeDailies            FileType = "dailies"
	FileTypeDailyHealthPillars FileType = "daily_health_pillars"
)

// ParseFileType validates s as a FileType.
func ParseFileType(s string) (FileType, error) {
	switch FileType(s) {
	case FileTypeDailies, FileTypeDailyHealthPillars:
		return FileType(s), nil
	}
	return "", errors.NewInvalidRequestError("unknown import type %q, expected %s or %s",
		s, FileTypeDailies, FileTypeDailyHealthPillars)
}

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// missingReferenceLogLimit caps how many missing parents are named in the summary log.
const missingReferenceLogLimit = 10

// Options are per-run overrides carried in job payloads.
// Unset fields fall back to the import configuration.
type Options struct {
	TestMode      bool  `json:"test_mode,omitempty"`
	MaxErrors     *int  `json:"max_errors,omitempty"`
	ClearExisting *bool `json:"clear_existing,omitempty"`
}

// Settings are the resolved knobs of one run.
type Settings struct {
	TestMode           bool
	MaxErrors          int
	BatchSize          int
	ProgressInterval   int
	ClearExisting      bool
	RelationshipPrefix string
	ParentColumn       string
}

// DailiesSummary is the dailies-only part of a result.
type DailiesSummary struct {
	EntitiesCreated   int `json:"entities_created"`
	EntitiesUpdated   int `json:"entities_updated"`
	EntitiesUnchanged int `json:"entities_unchanged"`
}

// RelationshipSummary is the relationship-only part of a result.
type RelationshipSummary struct {
	RelationshipsCreated int      `json:"relationships_created"`
	MissingReferences    []string `json:"missing_references"`
}

// Result summarizes one run. Exactly one of the embedded summaries is set.
type Result struct {
	RunID         string   `json:"run_id"`
	FileType      FileType `json:"file_type"`
	Status        string   `json:"status"`
	FilePath      string   `json:"file_path"`
	ProcessedRows int      `json:"processed_rows"`
	TotalRows     int      `json:"total_rows"`
	Errors        []string `json:"errors"`
	Error         string   `json:"error,omitempty"`
	TestMode      bool     `json:"test_mode"`
	Duration      float64  `json:"duration"` // seconds
	*DailiesSummary
	*RelationshipSummary
}

// Pipeline runs imports against one database.
type Pipeline struct {
	db     *sql.DB
	store  *catalog.Store
	stager *Stager
	cfg    am.ImportConfig
	logger *zap.SugaredLogger
}

// NewPipeline creates a pipeline. A nil logger means the global logger.
func NewPipeline(db *sql.DB, stager *Stager, cfg am.ImportConfig, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = logger.Logger
	}
	return &Pipeline{
		db:     db,
		store:  catalog.New(db),
		stager: stager,
		cfg:    cfg,
		logger: log.Named("tabular"),
	}
}

// Store exposes the catalog store the pipeline writes to.
func (p *Pipeline) Store() *catalog.Store {
	return p.store
}

// Stager exposes the pipeline's stager.
func (p *Pipeline) Stager() *Stager {
	return p.stager
}

// Settings resolves opts against the configuration for kind.
func (p *Pipeline) Settings(kind FileType, opts Options) Settings {
	s := Settings{
		TestMode:           opts.TestMode,
		MaxErrors:          p.cfg.MaxErrors,
		ClearExisting:      p.cfg.ClearExisting,
		RelationshipPrefix: p.cfg.RelationshipPrefix,
		ParentColumn:       p.cfg.ParentColumn,
	}
	if kind == FileTypeDailyHealthPillars {
		s.BatchSize = p.cfg.PillarsBatchSize
		s.ProgressInterval = p.cfg.PillarsProgressInterval
	} else {
		s.BatchSize = p.cfg.DailiesBatchSize
		s.ProgressInterval = p.cfg.DailiesProgressInterval
	}
	if opts.MaxErrors != nil {
		s.MaxErrors = *opts.MaxErrors
	}
	if opts.ClearExisting != nil {
		s.ClearExisting = *opts.ClearExisting
	}
	if s.RelationshipPrefix == "" {
		s.RelationshipPrefix = DefaultRelationshipPrefix
	}
	if s.ParentColumn == "" {
		s.ParentColumn = DefaultParentColumn
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 1
	}
	return s
}

// Import stages ref and runs the importer for kind. On a fatal error the
// returned result has status failed and the error is returned as well.
func (p *Pipeline) Import(ctx context.Context, kind FileType, ref string, opts Options, sink ProgressSink) (*Result, error) {
	start := time.Now()

	staged, err := p.stager.Stage(ctx, ref)
	if err != nil {
		return p.fail(newResult(kind, ref, opts.TestMode), start, err)
	}
	defer staged.Cleanup()

	if err := p.stager.Normalize(staged); err != nil {
		return p.fail(newResult(kind, ref, opts.TestMode), start, err)
	}

	return p.ImportStaged(ctx, kind, staged, opts, sink)
}

// ImportDailies imports a dailies file.
func (p *Pipeline) ImportDailies(ctx context.Context, ref string, opts Options, sink ProgressSink) (*Result, error) {
	return p.Import(ctx, FileTypeDailies, ref, opts, sink)
}

// ImportDailyHealthPillars imports a daily to health pillar relationship file.
func (p *Pipeline) ImportDailyHealthPillars(ctx context.Context, ref string, opts Options, sink ProgressSink) (*Result, error) {
	return p.Import(ctx, FileTypeDailyHealthPillars, ref, opts, sink)
}

// ImportStaged runs an import over an already staged CSV file.
// The caller owns staged and its cleanup.
func (p *Pipeline) ImportStaged(ctx context.Context, kind FileType, staged *StagedFile, opts Options, sink ProgressSink) (*Result, error) {
	start := time.Now()
	settings := p.Settings(kind, opts)
	res := newResult(kind, staged.Reference, settings.TestMode)

	log := logger.FromContext(ctx, p.logger).With(
		"run_id", res.RunID,
		logger.FieldImport, kind,
		logger.FieldReference, staged.Reference,
	)
	log.Infow("Import started",
		logger.FieldLocalPath, staged.LocalPath,
		"test_mode", settings.TestMode,
		"max_errors", settings.MaxErrors,
		logger.FieldBatchSize, settings.BatchSize,
	)

	header, err := ReadHeader(staged.LocalPath)
	if err != nil {
		return p.fail(res, start, err)
	}

	var reconcile reconcileFunc
	switch kind {
	case FileTypeDailies:
		if err := ValidateHeaders(DailiesRequiredHeaders, header); err != nil {
			return p.fail(res, start, err)
		}
		idx := newHeaderIndex(header)
		reconcile = func(ctx context.Context, store *catalog.Store, row rawRow) (rowOutcome, error) {
			return upsertDaily(ctx, store, parseDailyRecord(idx, row.Cells, row.Ordinal), settings.TestMode)
		}

	case FileTypeDailyHealthPillars:
		if err := ValidateHeaders([]string{settings.ParentColumn}, header); err != nil {
			return p.fail(res, start, err)
		}
		cols, err := DiscoverColumns(header, settings.RelationshipPrefix)
		if err != nil {
			return p.fail(res, start, err)
		}
		snap, err := p.store.Snapshot(ctx)
		if err != nil {
			return p.fail(res, start, errors.Mark(err, ErrTransientInfra))
		}
		log.Infow("Relationship columns discovered",
			"columns", len(cols),
			"known_targets", len(snap),
		)
		parentIdx := newHeaderIndex(header)[settings.ParentColumn]
		reconcile = func(ctx context.Context, store *catalog.Store, row rawRow) (rowOutcome, error) {
			rec := parsePillarRecord(parentIdx, cols, row.Cells, row.Ordinal)
			return syncRelationships(ctx, store, rec, snap, settings.ClearExisting, settings.TestMode)
		}

	default:
		return p.fail(res, start, errors.NewInvalidRequestError("unknown import type %q", kind))
	}

	total, err := countRows(staged.LocalPath)
	if err != nil {
		return p.fail(res, start, err)
	}
	res.TotalRows = total
	log.Infow("Header validation passed", logger.FieldTotalCount, total)

	rows, err := openRows(staged.LocalPath)
	if err != nil {
		return p.fail(res, start, err)
	}
	defer rows.Close()

	state := newRunState()
	runner := &batchRunner{
		db:        p.db,
		store:     p.store,
		batchSize: settings.BatchSize,
		maxErrors: settings.MaxErrors,
		progress:  NewProgressReporter(string(kind), total, settings.ProgressInterval, sink, log),
		logger:    log,
	}
	runErr := runner.run(ctx, rows, reconcile, state)

	res.ProcessedRows = state.processed
	res.Errors = state.errors
	p.fillSummary(res, state)

	if len(state.tally.missing) > 0 {
		shown := state.tally.missing
		if len(shown) > missingReferenceLogLimit {
			shown = shown[:missingReferenceLogLimit]
		}
		log.Warnw("Missing parent dailies",
			"count", len(state.tally.missing),
			"first", shown,
		)
	}

	if runErr != nil {
		runErr = errors.WithDetail(runErr, fmt.Sprintf("Reference: %s", staged.Reference))
		runErr = errors.WithDetail(runErr, fmt.Sprintf("Rows processed before failure: %d", state.processed))
		return p.fail(res, start, runErr)
	}

	res.Status = StatusCompleted
	res.Duration = time.Since(start).Seconds()
	log.Infow("Import completed",
		"processed_rows", res.ProcessedRows,
		logger.FieldTotalCount, res.TotalRows,
		"row_errors", len(res.Errors),
		"batches", state.batches,
		logger.FieldDuration, res.Duration,
	)
	if len(res.Errors) > 0 {
		log.Warnw("Import finished with row errors", "errors", errorsSummary(res.Errors, 5))
	}
	return res, nil
}

func newResult(kind FileType, ref string, testMode bool) *Result {
	res := &Result{
		RunID:    uuid.NewString(),
		FileType: kind,
		Status:   StatusFailed,
		FilePath: ref,
		Errors:   []string{},
		TestMode: testMode,
	}
	if kind == FileTypeDailyHealthPillars {
		res.RelationshipSummary = &RelationshipSummary{MissingReferences: []string{}}
	} else {
		res.DailiesSummary = &DailiesSummary{}
	}
	return res
}

func (p *Pipeline) fillSummary(res *Result, state *runState) {
	if res.DailiesSummary != nil {
		res.EntitiesCreated = state.created
		res.EntitiesUpdated = state.updated
		res.EntitiesUnchanged = state.unchanged
	}
	if res.RelationshipSummary != nil {
		res.RelationshipsCreated = state.relationships
		if state.tally.missing != nil {
			res.MissingReferences = state.tally.missing
		}
	}
}

func (p *Pipeline) fail(res *Result, start time.Time, err error) (*Result, error) {
	res.Status = StatusFailed
	res.Error = err.Error()
	res.Duration = time.Since(start).Seconds()
	p.logger.Errorw("Import failed",
		"run_id", res.RunID,
		logger.FieldImport, res.FileType,
		logger.FieldReference, res.FilePath,
		"processed_rows", res.ProcessedRows,
		logger.FieldError, err,
	)
	return res, err
}
