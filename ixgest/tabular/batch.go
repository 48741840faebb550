package tabular

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/dailyix/catalog"
	"github.com/teranos/dailyix/db"
	"github.com/teranos/dailyix/errors"
)

// batchStatus is how a batch ended.
type batchStatus int

const (
	batchCommitted batchStatus = iota
	// batchBudgetExceeded: the error budget broke mid-batch; the whole
	// batch was rolled back and the run must stop.
	batchBudgetExceeded
)

// tally accumulates what rows did. A batch's tally joins the run's only
// after the batch commits.
type tally struct {
	processed     int
	created       int
	updated       int
	unchanged     int
	relationships int
	missing       []string
}

func (t *tally) add(o rowOutcome) {
	if o.MissingParent != "" {
		t.missing = append(t.missing, o.MissingParent)
		return
	}
	t.processed++
	switch o.Upsert {
	case catalog.Created:
		t.created++
	case catalog.Updated:
		t.updated++
	default:
		t.unchanged++
	}
	t.relationships += o.Relationships
}

// runState is the mutable part of one import run.
type runState struct {
	tally
	errors      []string
	missingSeen map[string]bool
	batches     int
}

func newRunState() *runState {
	return &runState{errors: []string{}, missingSeen: map[string]bool{}}
}

func (s *runState) merge(t tally) {
	s.processed += t.processed
	s.created += t.created
	s.updated += t.updated
	s.unchanged += t.unchanged
	s.relationships += t.relationships
	for _, name := range t.missing {
		if !s.missingSeen[name] {
			s.missingSeen[name] = true
			s.tally.missing = append(s.tally.missing, name)
		}
	}
}

// reconcileFunc reconciles one row using a store bound to the batch transaction.
type reconcileFunc func(ctx context.Context, store *catalog.Store, row rawRow) (rowOutcome, error)

// batchRunner feeds rows through reconcile in fixed-size transactional batches.
type batchRunner struct {
	db        *sql.DB
	store     *catalog.Store
	batchSize int
	maxErrors int
	progress  *ProgressReporter
	logger    *zap.SugaredLogger
}

const rowSavepoint = "dailyix_row"

// run consumes rows until EOF or a fatal error. Rows are processed strictly
// in file order, one batch at a time.
func (b *batchRunner) run(ctx context.Context, rows *rowReader, reconcile reconcileFunc, state *runState) error {
	for {
		batch, err := nextBatch(rows, b.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		state.batches++
		status, err := b.runBatch(ctx, state.batches, batch, reconcile, state)
		if err != nil {
			return err
		}
		if status == batchBudgetExceeded {
			return thresholdError(len(state.errors), b.maxErrors)
		}
	}
}

func nextBatch(rows *rowReader, size int) ([]rawRow, error) {
	if size <= 0 {
		size = 1
	}
	batch := make([]rawRow, 0, size)
	for len(batch) < size {
		row, ok, err := rows.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		batch = append(batch, row)
	}
	return batch, nil
}

// runBatch runs one batch in a transaction. Every row gets a savepoint so a
// failed row leaves nothing behind. Row errors are appended to state as they
// happen; the batch's tally is merged only on commit.
func (b *batchRunner) runBatch(ctx context.Context, number int, batch []rawRow, reconcile reconcileFunc, state *runState) (batchStatus, error) {
	if err := ctx.Err(); err != nil {
		return batchCommitted, errors.Wrapf(err, "import interrupted before batch %d", number)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return batchCommitted, errors.Mark(errors.Wrapf(err, "failed to begin batch %d", number), ErrTransientInfra)
	}
	defer tx.Rollback()

	store := b.store.WithTx(tx)
	var t tally

	for _, row := range batch {
		outcome, rowErr := b.reconcileRow(ctx, tx, store, row, reconcile)
		if rowErr != nil {
			if errors.Is(rowErr, ErrTransientInfra) {
				return batchCommitted, rowErr
			}
			entry := (&RowError{Ordinal: row.Ordinal, Err: rowErr}).Error()
			state.errors = append(state.errors, entry)
			b.logger.Warnw("Row failed", "row", row.Ordinal, "error", rowErr.Error())

			if len(state.errors) > b.maxErrors {
				b.logger.Errorw("Error budget exceeded, rolling back batch",
					"batch", number,
					"errors", len(state.errors),
					"max_errors", b.maxErrors,
					"rows_discarded", t.processed,
				)
				if err := tx.Rollback(); err != nil {
					b.logger.Warnw("Rollback failed", "batch", number, "error", err)
				}
				return batchBudgetExceeded, nil
			}
		} else if !outcome.Skipped {
			t.add(outcome)
		} else {
			b.logger.Debugw("Row skipped, blank key", "row", row.Ordinal)
		}

		b.progress.Tick(row.Ordinal)
	}

	if err := tx.Commit(); err != nil {
		return batchCommitted, errors.Mark(errors.Wrapf(err, "failed to commit batch %d", number), ErrTransientInfra)
	}
	state.merge(t)

	b.logger.Debugw("Batch committed",
		"batch", number,
		"batch_size", len(batch),
		"processed", t.processed,
	)
	return batchCommitted, nil
}

// reconcileRow runs one row under a savepoint and a panic guard.
// Savepoint failures are infrastructure errors and end the run.
func (b *batchRunner) reconcileRow(ctx context.Context, tx *sql.Tx, store *catalog.Store, row rawRow, reconcile reconcileFunc) (rowOutcome, error) {
	if row.Err != nil {
		return rowOutcome{}, errors.Wrap(row.Err, "malformed row")
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+rowSavepoint); err != nil {
		return rowOutcome{}, errors.Mark(errors.Wrap(err, "failed to open row savepoint"), ErrTransientInfra)
	}

	outcome, err := guard(func() (rowOutcome, error) {
		return reconcile(ctx, store, row)
	})
	if isStoreFailure(err) {
		// The transaction itself is suspect; the deferred rollback in
		// runBatch discards the whole batch.
		return rowOutcome{}, errors.Mark(errors.Wrapf(err, "row %d", row.Ordinal), ErrTransientInfra)
	}
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO "+rowSavepoint); rbErr != nil {
			return rowOutcome{}, errors.Mark(errors.Wrap(rbErr, "failed to roll back row savepoint"), ErrTransientInfra)
		}
	}
	if _, relErr := tx.ExecContext(ctx, "RELEASE "+rowSavepoint); relErr != nil {
		return rowOutcome{}, errors.Mark(errors.Wrap(relErr, "failed to release row savepoint"), ErrTransientInfra)
	}
	return outcome, err
}

// isStoreFailure reports whether a row error came from the database or the
// run being cancelled rather than from the row's content.
func isStoreFailure(err error) bool {
	if err == nil {
		return false
	}
	return db.IsBusy(err) ||
		db.IsDatabaseClosed(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func guard(fn func() (rowOutcome, error)) (out rowOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("row handler panicked: %v", r)
		}
	}()
	return fn()
}

// errorsSummary is used in log lines; full lists live in the result.
func errorsSummary(errs []string, limit int) string {
	if len(errs) <= limit {
		return fmt.Sprint(errs)
	}
	return fmt.Sprintf("%v and %d more", errs[:limit], len(errs)-limit)
}
