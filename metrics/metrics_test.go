package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dailyix/errors"
	dxtest "github.com/teranos/dailyix/internal/testing"
	"github.com/teranos/dailyix/ixgest/tabular"
	"github.com/teranos/dailyix/pulse/async"
)

func finishedJob(t *testing.T, handler string, res *tabular.Result) *async.Job {
	t.Helper()
	job, err := async.NewJobWithPayload(handler, "x.csv", nil, -1)
	require.NoError(t, err)
	if res != nil {
		require.NoError(t, job.SetResult(res))
	}
	return job
}

func TestJobLifecycleCounters(t *testing.T) {
	c := NewCollector()
	job := finishedJob(t, tabular.DailiesHandlerName, &tabular.Result{
		FileType:       tabular.FileTypeDailies,
		ProcessedRows:  8,
		Errors:         []string{"Row 3: name can't be blank", "Row 9: name can't be blank"},
		DailiesSummary: &tabular.DailiesSummary{EntitiesCreated: 5, EntitiesUpdated: 2, EntitiesUnchanged: 1},
	})

	c.JobStarted(job)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.JobsInFlight.WithLabelValues(tabular.DailiesHandlerName)))

	c.JobFinished(job, async.JobStatusCompleted, 1500*time.Millisecond, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.JobsInFlight.WithLabelValues(tabular.DailiesHandlerName)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.JobsStarted.WithLabelValues(tabular.DailiesHandlerName)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.JobsFinished.WithLabelValues(tabular.DailiesHandlerName, "completed")))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.RowsProcessed.WithLabelValues("dailies")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.RowErrors.WithLabelValues("dailies")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.Entities.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Entities.WithLabelValues("updated")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.JobDuration))
}

func TestJobFailureAndRelationshipResult(t *testing.T) {
	c := NewCollector()
	job := finishedJob(t, tabular.DailyHealthPillarsHandlerName, &tabular.Result{
		FileType:      tabular.FileTypeDailyHealthPillars,
		ProcessedRows: 3,
		Errors:        []string{},
		RelationshipSummary: &tabular.RelationshipSummary{
			RelationshipsCreated: 4,
			MissingReferences:    []string{"Evening run"},
		},
	})

	c.JobStarted(job)
	failure := async.ClassifyError(job.HandlerName, errors.Mark(errors.New("too many errors"), tabular.ErrThresholdExceeded))
	c.JobFinished(job, async.JobStatusRetrying, time.Second, &failure)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.JobFailures.WithLabelValues(tabular.DailyHealthPillarsHandlerName, "threshold_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.JobsFinished.WithLabelValues(tabular.DailyHealthPillarsHandlerName, "retrying")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.Relationships))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MissingRefs))
}

func TestTestModeResultsDoNotCountWrites(t *testing.T) {
	c := NewCollector()
	job := finishedJob(t, tabular.DailiesHandlerName, &tabular.Result{
		FileType:       tabular.FileTypeDailies,
		ProcessedRows:  2,
		TestMode:       true,
		Errors:         []string{},
		DailiesSummary: &tabular.DailiesSummary{EntitiesCreated: 2},
	})
	c.JobFinished(job, async.JobStatusCompleted, time.Second, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.RowsProcessed.WithLabelValues("dailies")))
	assert.Equal(t, 0, testutil.CollectAndCount(c.Entities))
}

func TestForeignResultIsIgnored(t *testing.T) {
	c := NewCollector()
	job := finishedJob(t, "housekeeping", nil)
	job.Result = []byte(`{"deleted": 3}`)
	c.JobFinished(job, async.JobStatusCompleted, time.Second, nil)

	assert.Equal(t, 0, testutil.CollectAndCount(c.RowsProcessed))
}

func TestSampleQueueAndHandler(t *testing.T) {
	c := NewCollector()
	queue := async.NewQueue(dxtest.CreateTestDB(t))
	for i := 0; i < 2; i++ {
		job, err := async.NewJobWithPayload(tabular.DailiesHandlerName, "x.csv", nil, -1)
		require.NoError(t, err)
		require.NoError(t, queue.Enqueue(job))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.SampleQueue(ctx, queue, nil, 10*time.Millisecond, zaptest.NewLogger(t).Sugar()) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.QueueDepth.WithLabelValues("queued")) == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dailyix_queue_jobs{status="queued"} 2`)
	assert.Contains(t, string(body), "go_goroutines")
}

type fixedSystem async.SystemMetrics

func (f fixedSystem) GetSystemMetrics() async.SystemMetrics { return async.SystemMetrics(f) }

func TestSampleQueueObservesSystem(t *testing.T) {
	c := NewCollector()
	queue := async.NewQueue(dxtest.CreateTestDB(t))
	sys := fixedSystem{WorkersActive: 1, WorkersTotal: 3, MemoryPercent: 42.5}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.SampleQueue(ctx, queue, sys, 10*time.Millisecond, zaptest.NewLogger(t).Sugar()) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.WorkersTotal) == 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.WorkersBusy))
	assert.Equal(t, 42.5, testutil.ToFloat64(c.MemoryPercent))
}
