package selfheal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkers struct {
	unhealthy []UnhealthyWorker
	restartOK bool
}

func (f *fakeWorkers) UnhealthyWorkers(ctx context.Context) ([]UnhealthyWorker, error) {
	return f.unhealthy, nil
}

func (f *fakeWorkers) RestartWorker(ctx context.Context, workerID string, graceful bool) (bool, error) {
	return f.restartOK, nil
}

type fakeQueueStats struct {
	stats QueueStats
}

func (f *fakeQueueStats) Stats(ctx context.Context) (QueueStats, error) { return f.stats, nil }

type fakeScaler struct{ count int }

func (f *fakeScaler) WorkerCount(ctx context.Context) (int, error) { return f.count, nil }
func (f *fakeScaler) ScaleWorkers(ctx context.Context, target int) (bool, error) {
	f.count = target
	return true, nil
}

type fakeQueueRestarter struct{ restarted bool }

func (f *fakeQueueRestarter) RestartProcessing(ctx context.Context) (bool, error) {
	f.restarted = true
	return true, nil
}

type fakeStorage struct{ cleaned, archived int }

func (f *fakeStorage) CleanupOldFiles(ctx context.Context, days int) (int, error) { return f.cleaned, nil }
func (f *fakeStorage) ArchiveOldProjects(ctx context.Context, days int) (int, error) {
	return f.archived, nil
}

func TestCheckWorkerHealthProducesUnresponsiveIssue(t *testing.T) {
	workers := &fakeWorkers{unhealthy: []UnhealthyWorker{{ID: "w1", Status: "failed"}}}
	d := NewDiagnostics(workers, nil, DefaultThresholds(), "")
	issues, err := d.checkWorkerHealth(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueWorkerUnresponsive, issues[0].Type)
	assert.Equal(t, "w1", issues[0].Target)
}

func TestCheckQueueDepthDetectsBacklogAndStall(t *testing.T) {
	d := NewDiagnostics(nil, &fakeQueueStats{stats: QueueStats{Depth: 10000, ProcessingRate: 1}}, DefaultThresholds(), "")
	issues, err := d.checkQueueDepth(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueQueueBacklog, issues[0].Type)

	d2 := NewDiagnostics(nil, &fakeQueueStats{stats: QueueStats{Depth: 5, ProcessingRate: 0}}, DefaultThresholds(), "")
	issues2, err := d2.checkQueueDepth(context.Background())
	require.NoError(t, err)
	require.Len(t, issues2, 2)
	assert.Equal(t, IssueQueueBacklog, issues2[0].Type)
	assert.Equal(t, IssueQueueStalled, issues2[1].Type)
}

func TestHealUnresponsiveWorkerSucceedsOnGracefulRestart(t *testing.T) {
	workers := &fakeWorkers{restartOK: true}
	d := NewDiagnostics(workers, nil, DefaultThresholds(), "")
	h := New(d, Collaborators{Workers: workers})

	result := h.attemptHealing(context.Background(), Issue{Type: IssueWorkerUnresponsive, Target: "w1"})
	assert.True(t, result.Success)
	assert.Equal(t, "restarted_worker_w1", result.Action)
}

func TestHealQueueBacklogScalesUpByTwo(t *testing.T) {
	scaler := &fakeScaler{count: 3}
	h := New(NewDiagnostics(nil, nil, DefaultThresholds(), ""), Collaborators{Scaler: scaler})

	result := h.attemptHealing(context.Background(), Issue{Type: IssueQueueBacklog})
	assert.True(t, result.Success)
	assert.Equal(t, "scaled_workers_to_5", result.Action)
	assert.Equal(t, 5, scaler.count)
}

func TestHealStalledQueueRestartsProcessing(t *testing.T) {
	restarter := &fakeQueueRestarter{}
	h := New(NewDiagnostics(nil, nil, DefaultThresholds(), ""), Collaborators{Queue: restarter})

	result := h.attemptHealing(context.Background(), Issue{Type: IssueQueueStalled})
	assert.True(t, result.Success)
	assert.True(t, restarter.restarted)
}

func TestHealResourceLeakAlwaysSucceeds(t *testing.T) {
	h := New(NewDiagnostics(nil, nil, DefaultThresholds(), ""), Collaborators{})
	result := h.attemptHealing(context.Background(), Issue{Type: IssueResourceLeak})
	assert.True(t, result.Success)
	assert.Equal(t, "cleared_memory_and_caches", result.Action)
}

func TestHealHighCPUInstallsLimiter(t *testing.T) {
	h := New(NewDiagnostics(nil, nil, DefaultThresholds(), ""), Collaborators{})
	assert.Nil(t, h.Limiter())
	result := h.attemptHealing(context.Background(), Issue{Type: IssueHighCPU})
	assert.True(t, result.Success)
	assert.NotNil(t, h.Limiter())
}

func TestHealLowDiskSpaceReportsNoFilesWhenNothingCleaned(t *testing.T) {
	storage := &fakeStorage{cleaned: 0}
	h := New(NewDiagnostics(nil, nil, DefaultThresholds(), ""), Collaborators{Storage: storage})
	result := h.attemptHealing(context.Background(), Issue{Type: IssueLowDiskSpace})
	assert.False(t, result.Success)
	assert.Equal(t, "no files to clean", result.Reason)
}

func TestUnknownIssueTypeReturnsNoHandler(t *testing.T) {
	h := New(NewDiagnostics(nil, nil, DefaultThresholds(), ""), Collaborators{})
	result := h.attemptHealing(context.Background(), Issue{Type: "unheard_of"})
	assert.Equal(t, "no_handler", result.Action)
}

func TestStatsAggregatesByIssueType(t *testing.T) {
	workers := &fakeWorkers{restartOK: true}
	h := New(NewDiagnostics(workers, nil, DefaultThresholds(), ""), Collaborators{Workers: workers})
	h.attemptHealing(context.Background(), Issue{Type: IssueWorkerUnresponsive, Target: "w1"})
	h.attemptHealing(context.Background(), Issue{Type: IssueWorkerUnresponsive, Target: "w2"})

	stats := h.Stats()
	assert.Equal(t, 2, stats.TotalAttempts)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 2, stats.ByIssueType[IssueWorkerUnresponsive].Attempts)
}

func TestLoopRunOnceRecordsLastRun(t *testing.T) {
	h := New(NewDiagnostics(nil, nil, DefaultThresholds(), ""), Collaborators{})
	loop, err := NewLoop(h, "@every 1h")
	require.NoError(t, err)

	loop.runOnce(context.Background())
	assert.NotNil(t, loop.LastRun())
}
