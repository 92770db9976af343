package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/state"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	store := state.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })
	eta, err := NewETAPredictor(nil, 100, time.Hour)
	require.NoError(t, err)
	return New(store, eta, nil)
}

func TestCreateInitializesQueuedStatus(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tp, err := tr.Create(ctx, "task-1", "tpl_a", "image", nil)
	require.NoError(t, err)
	assert.Equal(t, TaskQueued, tp.Status)
	assert.Equal(t, 4, tp.TotalStages)
}

func TestCancelTransitionsToCancelled(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Create(ctx, "task-cancel", "tpl_a", "image", nil)
	require.NoError(t, err)

	require.NoError(t, tr.Cancel(ctx, "task-cancel"))

	tp, err := tr.Get(ctx, "task-cancel")
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, tp.Status)
	assert.NotNil(t, tp.CompletedAt)
}

func TestCancelAfterTerminalIsNoop(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Create(ctx, "task-done", "tpl_a", "image", nil)
	require.NoError(t, err)
	require.NoError(t, tr.UpdateStage(ctx, "task-done", 0, StageCompleted, 1, "", nil))
	require.NoError(t, tr.UpdateStage(ctx, "task-done", 1, StageCompleted, 1, "", nil))
	require.NoError(t, tr.UpdateStage(ctx, "task-done", 2, StageCompleted, 1, "", nil))
	require.NoError(t, tr.UpdateStage(ctx, "task-done", 3, StageCompleted, 1, "", nil))

	require.NoError(t, tr.Cancel(ctx, "task-done"))

	tp, err := tr.Get(ctx, "task-done")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, tp.Status)
}

func TestUpdateStageTransitionsToPreparingOnFirstStart(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Create(ctx, "task-2", "tpl_a", "image", nil)
	require.NoError(t, err)

	require.NoError(t, tr.UpdateStage(ctx, "task-2", 1, StageInProgress, 0.5, "", nil))

	tp, err := tr.Get(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, TaskPreparing, tp.Status)
	assert.NotNil(t, tp.StartedAt)
}

func TestUpdateStageClampsProgress(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Create(ctx, "task-3", "tpl_a", "default", nil)
	require.NoError(t, err)

	require.NoError(t, tr.UpdateStage(ctx, "task-3", 0, StageInProgress, 5.0, "", nil))
	tp, err := tr.Get(ctx, "task-3")
	require.NoError(t, err)
	assert.Equal(t, 1.0, tp.Stages[0].Progress)
}

func TestAllStagesCompletedDerivesTaskCompleted(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Create(ctx, "task-4", "tpl_a", "default", nil)
	require.NoError(t, err)

	require.NoError(t, tr.UpdateStage(ctx, "task-4", 0, StageCompleted, 1.0, "", nil))
	require.NoError(t, tr.UpdateStage(ctx, "task-4", 1, StageCompleted, 1.0, "", nil))
	require.NoError(t, tr.UpdateStage(ctx, "task-4", 2, StageCompleted, 1.0, "", nil))

	tp, err := tr.Get(ctx, "task-4")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, tp.Status)
	assert.NotNil(t, tp.CompletedAt)
	assert.Equal(t, 100.0, tp.OverallProgress)
}

func TestAnyStageFailedDerivesTaskFailed(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Create(ctx, "task-5", "tpl_a", "default", nil)
	require.NoError(t, err)

	require.NoError(t, tr.UpdateStage(ctx, "task-5", 1, StageFailed, 0.3, "boom", nil))

	tp, err := tr.Get(ctx, "task-5")
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, tp.Status)
	assert.Equal(t, "boom", tp.Error)
	assert.Equal(t, 0.0, tp.OverallProgress)
}

func TestUpdateStageUnknownTaskErrors(t *testing.T) {
	tr := newTestTracker(t)
	err := tr.UpdateStage(context.Background(), "missing", 0, StageInProgress, 0, "", nil)
	assert.Error(t, err)
}

func TestLogsAreBoundedAtMaxEntries(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Create(ctx, "task-6", "tpl_a", "default", nil)
	require.NoError(t, err)

	for i := 0; i < maxLogEntries+50; i++ {
		require.NoError(t, tr.AddLog(ctx, "task-6", "info", "tick", nil))
	}
	tp, err := tr.Get(ctx, "task-6")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tp.Logs), maxLogEntries)
}

func TestSubscribeReceivesPublishedUpdate(t *testing.T) {
	tr := newTestTracker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := tr.Create(ctx, "task-7", "tpl_a", "default", nil)
	require.NoError(t, err)

	ch, unsubscribe, err := tr.Subscribe(ctx, "task-7")
	require.NoError(t, err)
	defer unsubscribe()

	go func() {
		_ = tr.UpdateStage(ctx, "task-7", 0, StageInProgress, 0.2, "", nil)
	}()

	select {
	case update := <-ch:
		assert.Equal(t, "task-7", update.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress update")
	}
}
