package tabular

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dailyix/catalog"
	"github.com/teranos/dailyix/errors"
)

func newMockRunner(t *testing.T, batchSize, maxErrors int) (*batchRunner, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	log := zaptest.NewLogger(t).Sugar()
	return &batchRunner{
		db:        mockDB,
		store:     catalog.New(mockDB),
		batchSize: batchSize,
		maxErrors: maxErrors,
		progress:  NewProgressReporter("test", 0, 0, nil, log),
		logger:    log,
	}, mock
}

var (
	expSavepoint  = regexp.QuoteMeta("SAVEPOINT " + rowSavepoint)
	expRollbackTo = regexp.QuoteMeta("ROLLBACK TO " + rowSavepoint)
	expRelease    = regexp.QuoteMeta("RELEASE " + rowSavepoint)
)

func failOnRow(n int) reconcileFunc {
	return func(ctx context.Context, store *catalog.Store, row rawRow) (rowOutcome, error) {
		if row.Ordinal == n {
			return rowOutcome{}, errors.Newf("bad row %d", n)
		}
		return rowOutcome{Upsert: catalog.Created}, nil
	}
}

func TestBatchRunnerCommitsEachBatch(t *testing.T) {
	runner, mock := newMockRunner(t, 2, 10)
	rows, err := openRows(writeFixture(t, "three.csv", "k\n1\n2\n3\n"))
	require.NoError(t, err)
	defer rows.Close()

	mock.ExpectBegin()
	for i := 0; i < 2; i++ {
		mock.ExpectExec(expSavepoint).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(expRelease).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(expSavepoint).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expRelease).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	state := newRunState()
	require.NoError(t, runner.run(context.Background(), rows, failOnRow(-1), state))
	assert.Equal(t, 3, state.processed)
	assert.Equal(t, 3, state.created)
	assert.Equal(t, 2, state.batches)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRunnerRowFailureRollsBackToSavepoint(t *testing.T) {
	runner, mock := newMockRunner(t, 5, 10)
	rows, err := openRows(writeFixture(t, "two.csv", "k\n1\n2\n"))
	require.NoError(t, err)
	defer rows.Close()

	mock.ExpectBegin()
	mock.ExpectExec(expSavepoint).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expRelease).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expSavepoint).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expRollbackTo).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expRelease).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	state := newRunState()
	require.NoError(t, runner.run(context.Background(), rows, failOnRow(2), state))
	assert.Equal(t, 1, state.processed)
	assert.Equal(t, []string{"Row 2: bad row 2"}, state.errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRunnerBudgetBreachRollsBackBatch(t *testing.T) {
	runner, mock := newMockRunner(t, 5, 0)
	rows, err := openRows(writeFixture(t, "three.csv", "k\n1\n2\n3\n"))
	require.NoError(t, err)
	defer rows.Close()

	mock.ExpectBegin()
	mock.ExpectExec(expSavepoint).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expRelease).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expSavepoint).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expRollbackTo).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expRelease).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	state := newRunState()
	err = runner.run(context.Background(), rows, failOnRow(2), state)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrThresholdExceeded))
	assert.Equal(t, 0, state.processed, "row 1 was rolled back with its batch")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRunnerRecoversRowPanic(t *testing.T) {
	runner, mock := newMockRunner(t, 5, 10)
	rows, err := openRows(writeFixture(t, "one.csv", "k\n1\n"))
	require.NoError(t, err)
	defer rows.Close()

	mock.ExpectBegin()
	mock.ExpectExec(expSavepoint).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expRollbackTo).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(expRelease).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	state := newRunState()
	err = runner.run(context.Background(), rows, func(ctx context.Context, store *catalog.Store, row rawRow) (rowOutcome, error) {
		var m map[string]int
		m["boom"] = 1
		return rowOutcome{}, nil
	}, state)
	require.NoError(t, err)
	require.Len(t, state.errors, 1)
	assert.Contains(t, state.errors[0], "row handler panicked")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRunnerBeginFailureIsTransient(t *testing.T) {
	runner, mock := newMockRunner(t, 5, 10)
	rows, err := openRows(writeFixture(t, "one.csv", "k\n1\n"))
	require.NoError(t, err)
	defer rows.Close()

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	err = runner.run(context.Background(), rows, failOnRow(-1), newRunState())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientInfra))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRunnerLockedStoreAbortsRun(t *testing.T) {
	runner, mock := newMockRunner(t, 5, 10)
	rows, err := openRows(writeFixture(t, "two.csv", "k\n1\n2\n"))
	require.NoError(t, err)
	defer rows.Close()

	mock.ExpectBegin()
	mock.ExpectExec(expSavepoint).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM dailies WHERE unleash_id").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	state := newRunState()
	err = runner.run(context.Background(), rows, func(ctx context.Context, store *catalog.Store, row rawRow) (rowOutcome, error) {
		if _, err := store.FindDailyByUnleashID(ctx, "x"); err != nil {
			return rowOutcome{}, err
		}
		return rowOutcome{Upsert: catalog.Created}, nil
	}, state)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientInfra))
	assert.Contains(t, err.Error(), "database is locked")
	assert.Empty(t, state.errors, "store failures are not row errors")
	assert.Equal(t, 0, state.processed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRunnerCancelledRowIsTransient(t *testing.T) {
	runner, mock := newMockRunner(t, 5, 10)
	rows, err := openRows(writeFixture(t, "one.csv", "k\n1\n"))
	require.NoError(t, err)
	defer rows.Close()

	mock.ExpectBegin()
	mock.ExpectExec(expSavepoint).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = runner.run(context.Background(), rows, func(ctx context.Context, store *catalog.Store, row rawRow) (rowOutcome, error) {
		return rowOutcome{}, errors.Wrap(context.Canceled, "upsert daily")
	}, newRunState())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientInfra))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsStoreFailure(t *testing.T) {
	assert.False(t, isStoreFailure(nil))
	assert.False(t, isStoreFailure(errors.New("unleash_id is required")))
	assert.True(t, isStoreFailure(errors.Wrap(errors.New("database is locked"), "find daily")))
	assert.True(t, isStoreFailure(errors.New("sql: database is closed")))
	assert.True(t, isStoreFailure(errors.Wrap(context.DeadlineExceeded, "link pillar")))
}
