package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dailyix/am"
	"github.com/teranos/dailyix/errors"
	dxtest "github.com/teranos/dailyix/internal/testing"
	"github.com/teranos/dailyix/ixgest/tabular"
	"github.com/teranos/dailyix/pulse/async"
	"github.com/teranos/dailyix/uploads"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *async.Queue) {
	t.Helper()
	queue := async.NewQueue(dxtest.CreateTestDB(t))
	return New(queue, am.Default().Import, -1, zaptest.NewLogger(t).Sugar()), queue
}

func intPtr(n int) *int { return &n }

func TestImportDailiesEnqueuesJob(t *testing.T) {
	o, queue := newTestOrchestrator(t)

	r, err := o.ImportDailies(" s3://bucket/dailies.csv ", ScheduleOptions{
		Options:   tabular.Options{TestMode: true},
		UserEmail: "ops@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusEnqueued, r.Status)
	assert.Equal(t, tabular.DailiesHandlerName, r.Handler)
	assert.Equal(t, "s3://bucket/dailies.csv", r.FileReference)
	assert.Nil(t, r.RunAt)

	job, err := queue.GetJob(r.JobID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusQueued, job.Status)
	assert.Equal(t, async.DefaultMaxRetries, job.MaxRetries)
	assert.Contains(t, string(job.Payload), `"user_email":"ops@example.com"`)
	assert.Contains(t, string(job.Payload), `"test_mode":true`)

	_, err = o.ImportDailyHealthPillars("", ScheduleOptions{})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestImportFullDatasetDelaysPillars(t *testing.T) {
	o, queue := newTestOrchestrator(t)

	before := time.Now().UTC()
	r, err := o.ImportFullDataset("d.csv", "p.csv", ScheduleOptions{})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, r.Delay)
	assert.Equal(t, "dailies_first_then_pillars", r.Sequence)
	assert.Nil(t, r.Dailies.RunAt)
	require.NotNil(t, r.Pillars.RunAt)
	assert.WithinDuration(t, before.Add(30*time.Second), *r.Pillars.RunAt, 5*time.Second)

	first, err := queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, r.Dailies.JobID, first.ID)

	next, err := queue.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, next, "pillars job is not due yet")

	r, err = o.ImportFullDataset("d.csv", "p.csv", ScheduleOptions{DelaySeconds: intPtr(0)})
	require.NoError(t, err)
	assert.Nil(t, r.Pillars.RunAt)
}

func TestBatchImportDailiesStaggers(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	before := time.Now().UTC()
	r, err := o.BatchImportDailies([]string{"a.csv", "b.csv", "c.csv"}, ScheduleOptions{StaggerSeconds: intPtr(10)})
	require.NoError(t, err)
	require.Len(t, r.Jobs, 3)
	assert.Equal(t, 3, r.FileCount)

	assert.Nil(t, r.Jobs[0].RunAt)
	require.NotNil(t, r.Jobs[1].RunAt)
	require.NotNil(t, r.Jobs[2].RunAt)
	assert.WithinDuration(t, before.Add(10*time.Second), *r.Jobs[1].RunAt, 5*time.Second)
	assert.WithinDuration(t, before.Add(20*time.Second), *r.Jobs[2].RunAt, 5*time.Second)

	_, err = o.BatchImportDailies(nil, ScheduleOptions{})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestJobStatusReportsStateAndResult(t *testing.T) {
	o, queue := newTestOrchestrator(t)

	r, err := o.ImportDailies("d.csv", ScheduleOptions{})
	require.NoError(t, err)

	st, err := o.JobStatus(r.JobID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusQueued, st.Status)
	assert.Equal(t, 0, st.Attempts)
	assert.Nil(t, st.Result)

	job, err := queue.Dequeue()
	require.NoError(t, err)
	require.NoError(t, job.SetResult(&tabular.Result{Status: tabular.StatusFailed, Error: "file not found: d.csv", Errors: []string{}}))
	_, err = queue.FailJob(job, errors.New("file not found: d.csv"))
	require.NoError(t, err)

	st, err = o.JobStatus(r.JobID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusRetrying, st.Status)
	assert.Equal(t, 1, st.RetryCount)
	assert.Equal(t, "file not found: d.csv", st.LastError)
	require.NotNil(t, st.Result)
	assert.Equal(t, tabular.StatusFailed, st.Result.Status)

	_, err = o.JobStatus("nope")
	assert.True(t, errors.IsNotFoundError(err))
}

type fixedGauge int

func (g fixedGauge) ActiveWorkers() int { return int(g) }

func TestImportStats(t *testing.T) {
	o, queue := newTestOrchestrator(t)

	_, err := o.ImportDailies("a.csv", ScheduleOptions{})
	require.NoError(t, err)
	_, err = o.ImportDailyHealthPillars("b.csv", ScheduleOptions{})
	require.NoError(t, err)
	other, err := async.NewJobWithPayload("housekeeping", "", nil, -1)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(other))

	job, err := queue.Dequeue()
	require.NoError(t, err)
	require.NoError(t, queue.CompleteJob(job))

	stats, err := o.ImportStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEnqueued)
	assert.Equal(t, 1, stats.TotalProcessed)
	assert.Equal(t, 0, stats.TotalFailed)
	assert.Equal(t, 1, stats.ImportJobsQueued)
	assert.Equal(t, 0, stats.WorkersBusy)
	assert.GreaterOrEqual(t, stats.QueueLatency, 0.0)

	o.SetWorkerGauge(fixedGauge(3))
	stats, err = o.ImportStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.WorkersBusy)
}

func TestClearFailedImportJobs(t *testing.T) {
	o, queue := newTestOrchestrator(t)

	fail := func(ref string, maxRetries int) {
		job, err := tabular.NewImportJob(tabular.FileTypeDailies, tabular.ImportPayload{FileReference: ref}, maxRetries)
		require.NoError(t, err)
		require.NoError(t, queue.Enqueue(job))
		claimed, err := queue.Dequeue()
		require.NoError(t, err)
		_, err = queue.FailJob(claimed, errors.New("boom"))
		require.NoError(t, err)
	}
	fail("dead.csv", 0)
	fail("retry.csv", 3)

	other, err := async.NewJobWithPayload("housekeeping", "", nil, 0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(other))
	claimed, err := queue.Dequeue()
	require.NoError(t, err)
	_, err = queue.FailJob(claimed, errors.New("boom"))
	require.NoError(t, err)

	res, err := o.ClearFailedImportJobs()
	require.NoError(t, err)
	assert.Equal(t, &ClearResult{DeadJobsCleared: 1, RetryJobsCleared: 1, TotalCleared: 2}, res)

	_, err = queue.GetJob(other.ID)
	assert.NoError(t, err, "non-import jobs are kept")
}

func TestEnqueueUpload(t *testing.T) {
	o, queue := newTestOrchestrator(t)

	r, err := o.EnqueueUpload(&uploads.Upload{ID: 7, Source: "in/dailies.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, uploads.HandlerName, r.Handler)

	job, err := queue.GetJob(r.JobID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"upload_id":7}`, string(job.Payload))
}

func TestValidateImportFile(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	p := filepath.Join(t.TempDir(), "dailies.csv")
	require.NoError(t, os.WriteFile(p, []byte("name\n"), 0o644))

	v := o.ValidateImportFile(p, "dailies")
	assert.True(t, v.Valid)
	assert.Empty(t, v.Errors)

	v = o.ValidateImportFile("s3://bucket/missing.csv", "daily_health_pillars")
	assert.True(t, v.Valid, "remote files are checked by the job")

	missing := filepath.Join(t.TempDir(), "missing.csv")
	v = o.ValidateImportFile(missing, "users")
	assert.False(t, v.Valid)
	assert.Equal(t, []string{
		"File not found: " + missing,
		"File not readable: " + missing,
		"Invalid import type: users",
	}, v.Errors)

	v = o.ValidateImportFile(t.TempDir(), "dailies")
	assert.False(t, v.Valid)
}
