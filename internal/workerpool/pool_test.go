package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/ledger"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/state"
)

type fakeLauncher struct {
	mu      sync.Mutex
	started int
	stopped int
	failNext bool
}

func (f *fakeLauncher) Start(ctx context.Context, w *Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return assertError{"launch failed"}
	}
	f.started++
	return nil
}

func (f *fakeLauncher) Stop(ctx context.Context, w *Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

type fakeQueue struct {
	depth int
	rate  float64
}

func (f fakeQueue) Depth(ctx context.Context) (int, error)      { return f.depth, nil }
func (f fakeQueue) ProcessingRate(ctx context.Context) (float64, error) { return f.rate, nil }
func (f fakeQueue) HeadWorkerType(ctx context.Context) (ledger.WorkerType, error) {
	return ledger.WorkerGeneral, nil
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *fakeLauncher) {
	t.Helper()
	l := ledger.New(ledger.Resources{CPUCores: 20, MemoryGB: 40, VRAMGB: 16, GPUCount: 2})
	store := state.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })
	launcher := &fakeLauncher{}
	p := New(cfg, l, store, launcher, fakeQueue{}, nil)
	return p, launcher
}

func TestSpawnRegistersWorkerAndAllocatesResources(t *testing.T) {
	p, launcher := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	w, err := p.Spawn(ctx, ledger.WorkerGeneral)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, w.Status)
	assert.Equal(t, 1, launcher.started)
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[[2]string]int
}

func (f *fakeMetrics) SetWorkerCount(workerType, status string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[[2]string]int)
	}
	f.counts[[2]string{workerType, status}] = count
}

func TestSpawnReportsWorkerCountMetric(t *testing.T) {
	l := ledger.New(ledger.Resources{CPUCores: 20, MemoryGB: 40, VRAMGB: 16, GPUCount: 2})
	store := state.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })
	metrics := &fakeMetrics{}
	p := New(DefaultConfig(), l, store, &fakeLauncher{}, fakeQueue{}, metrics)

	_, err := p.Spawn(context.Background(), ledger.WorkerGeneral)
	require.NoError(t, err)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 1, metrics.counts[[2]string{string(ledger.WorkerGeneral), string(StatusActive)}])
}

func TestSpawnRefusesBeyondMaxWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWorkers = 1
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	_, err := p.Spawn(ctx, ledger.WorkerGeneral)
	require.NoError(t, err)
	_, err = p.Spawn(ctx, ledger.WorkerGeneral)
	assert.Error(t, err)
}

func TestSpawnReleasesAllocationOnLaunchFailure(t *testing.T) {
	p, launcher := newTestPool(t, DefaultConfig())
	ctx := context.Background()
	launcher.failNext = true

	_, err := p.Spawn(ctx, ledger.WorkerGPU)
	require.Error(t, err)

	_, allocated := p.ledger.Totals()
	assert.Equal(t, ledger.Resources{}, allocated)
}

func TestTerminateReleasesResourcesAndRemovesWorker(t *testing.T) {
	p, launcher := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	w, err := p.Spawn(ctx, ledger.WorkerCPU)
	require.NoError(t, err)

	require.NoError(t, p.Terminate(ctx, w.ID, true))
	assert.Equal(t, 1, launcher.stopped)

	_, allocated := p.ledger.Totals()
	assert.Equal(t, ledger.Resources{}, allocated)
	assert.Empty(t, p.Snapshot())
}

func TestAssignAndCompleteTaskTransitionsStatus(t *testing.T) {
	p, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()
	w, err := p.Spawn(ctx, ledger.WorkerGeneral)
	require.NoError(t, err)

	p.AssignTask(w.ID, "task-1")
	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusBusy, snap[0].Status)

	p.CompleteTask(w.ID, false)
	snap = p.Snapshot()
	assert.Equal(t, StatusIdle, snap[0].Status)
	assert.Equal(t, 1, snap[0].TasksCompleted)
}

func TestScaleOnceSpawnsWhenQueuePressureHigh(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWorkers = 0
	l := ledger.New(ledger.Resources{CPUCores: 20, MemoryGB: 40})
	store := state.NewMemoryStore(time.Hour)
	defer store.Close()
	p := New(cfg, l, store, &fakeLauncher{}, fakeQueue{depth: 100}, nil)

	p.scaleOnce(context.Background())
	assert.Len(t, p.Snapshot(), 1)
}

func TestHealthCheckMarksStaleHeartbeatFailed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = time.Millisecond
	cfg.MinWorkers = 0
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	w, err := p.Spawn(ctx, ledger.WorkerGeneral)
	require.NoError(t, err)
	p.mu.Lock()
	p.workers[w.ID].LastHeartbeat = time.Now().Add(-time.Hour)
	p.mu.Unlock()

	p.healthCheckOnce(ctx, time.Millisecond)
	assert.Empty(t, p.Snapshot())
}

func TestQueuesForTypeMapping(t *testing.T) {
	assert.Equal(t, []string{"gpu", "generation"}, queuesForType(ledger.WorkerGPU))
	assert.Equal(t, []string{"cpu", "processing"}, queuesForType(ledger.WorkerCPU))
	assert.Equal(t, []string{"io", "file_operations"}, queuesForType(ledger.WorkerIO))
	assert.Equal(t, []string{"default"}, queuesForType(ledger.WorkerGeneral))
}
