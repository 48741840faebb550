package async

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	dxtest "github.com/teranos/dailyix/internal/testing"
)

func TestCalculateSafeWorkerCount(t *testing.T) {
	assert.Equal(t, 1, calculateSafeWorkerCount(0.5))
	assert.Equal(t, 1, calculateSafeWorkerCount(1.2))
	assert.Equal(t, 6, calculateSafeWorkerCount(4))
	assert.Equal(t, 32, calculateSafeWorkerCount(512))
}

func TestCheckMemoryPressure(t *testing.T) {
	orig := memoryStats
	defer func() { memoryStats = orig }()

	const gb = 1024 * 1024 * 1024
	memoryStats = func() (uint64, uint64, error) { return 8 * gb, 2 * gb, nil }

	pool := NewWorkerPool(context.Background(), dxtest.CreateTestDB(t), WorkerPoolConfig{Workers: 8}, nil, nil)
	assert.Contains(t, pool.checkMemoryPressure(), "exceeds recommended (2)")

	pool.workers = 2
	assert.Empty(t, pool.checkMemoryPressure())

	memoryStats = func() (uint64, uint64, error) { return 0, 0, errors.New("no /proc") }
	pool.workers = 100
	assert.Empty(t, pool.checkMemoryPressure())
}

func TestGetSystemMetrics(t *testing.T) {
	orig := memoryStats
	defer func() { memoryStats = orig }()

	const gb = 1024 * 1024 * 1024
	memoryStats = func() (uint64, uint64, error) { return 4 * gb, 1 * gb, nil }

	pool := NewWorkerPool(context.Background(), dxtest.CreateTestDB(t), WorkerPoolConfig{Workers: 2}, nil, nil)
	assert.NoError(t, pool.GetQueue().Enqueue(createTestJob(t, "ixgest.dailies", "d.csv")))

	m := pool.GetSystemMetrics()
	assert.Equal(t, 2, m.WorkersTotal)
	assert.Equal(t, 1, m.JobsQueued)
	assert.InDelta(t, 4.0, m.MemoryTotalGB, 0.001)
	assert.InDelta(t, 75.0, m.MemoryPercent, 0.001)
}
