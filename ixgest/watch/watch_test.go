package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dailyix/am"
	"github.com/teranos/dailyix/ixgest/orchestrator"
	"github.com/teranos/dailyix/ixgest/tabular"
)

type recordingScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingScheduler) record(kind tabular.FileType, ref string) (*orchestrator.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, string(kind)+":"+filepath.Base(ref))
	return &orchestrator.Receipt{JobID: "job"}, nil
}

func (s *recordingScheduler) ImportDailies(ref string, _ orchestrator.ScheduleOptions) (*orchestrator.Receipt, error) {
	return s.record(tabular.FileTypeDailies, ref)
}

func (s *recordingScheduler) ImportDailyHealthPillars(ref string, _ orchestrator.ScheduleOptions) (*orchestrator.Receipt, error) {
	return s.record(tabular.FileTypeDailyHealthPillars, ref)
}

func (s *recordingScheduler) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func startDropFolder(t *testing.T) (string, *recordingScheduler) {
	t.Helper()
	dir := t.TempDir()
	sched := &recordingScheduler{}

	d, err := New(dir, am.WatchConfig{DebounceMS: 50, EnqueuePerSecond: 100}, sched, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return dir, sched
}

func TestDropFolderEnqueuesByDirectory(t *testing.T) {
	dir, sched := startDropFolder(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dailies", "week1.csv"), []byte("name\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daily_health_pillars", "links.csv"), []byte("daily_name\n"), 0o644))

	require.Eventually(t, func() bool { return len(sched.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"dailies:week1.csv", "daily_health_pillars:links.csv"}, sched.snapshot())
}

func TestDropFolderDebouncesRepeatedWrites(t *testing.T) {
	dir, sched := startDropFolder(t)

	p := filepath.Join(dir, "dailies", "big.csv")
	f, err := os.Create(p)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.WriteString("row\n")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(sched.snapshot()) >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"dailies:big.csv"}, sched.snapshot())
}

func TestDropFolderIgnoresUnrelatedFiles(t *testing.T) {
	dir, sched := startDropFolder(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dailies", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dailies", ".partial.csv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.csv"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, sched.snapshot())
}

func TestKindFor(t *testing.T) {
	dir := "/drop"
	cases := []struct {
		path string
		kind tabular.FileType
		ok   bool
	}{
		{"/drop/dailies/a.csv", tabular.FileTypeDailies, true},
		{"/drop/dailies/a.XLSX", tabular.FileTypeDailies, true},
		{"/drop/daily_health_pillars/b.csv", tabular.FileTypeDailyHealthPillars, true},
		{"/drop/dailies/~$a.xlsx", "", false},
		{"/drop/dailies/a.json", "", false},
		{"/drop/other/a.csv", "", false},
		{"/drop/dailies/nested/a.csv", "", false},
	}
	for _, c := range cases {
		kind, ok := kindFor(dir, c.path)
		assert.Equal(t, c.ok, ok, c.path)
		assert.Equal(t, c.kind, kind, c.path)
	}
}
