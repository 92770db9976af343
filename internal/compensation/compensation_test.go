package compensation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReleaser struct{ released []string }

func (f *fakeReleaser) ReleaseAllocation(ctx context.Context, allocationID, resourceType string) error {
	f.released = append(f.released, allocationID)
	return nil
}

type fakeCanceller struct{ cancelled bool }

func (f *fakeCanceller) CancelTask(ctx context.Context, taskID, queueName string) (bool, error) {
	return f.cancelled, nil
}

type failingCanceller struct{}

func (failingCanceller) CancelTask(ctx context.Context, taskID, queueName string) (bool, error) {
	return false, errors.New("queue unreachable")
}

func TestCompensateFileUploadRemovesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	m := New(Collaborators{})
	result := m.Compensate(context.Background(), Operation{Type: "file_upload", Data: map[string]interface{}{"file_path": path}}, errors.New("upload failed"))

	assert.True(t, result.Success)
	assert.Contains(t, result.ActionTaken, "removed_file")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCompensateFileUploadMissingPathIsNoop(t *testing.T) {
	m := New(Collaborators{})
	result := m.Compensate(context.Background(), Operation{Type: "file_upload", Data: map[string]interface{}{"file_path": "/nonexistent/path.bin"}}, errors.New("x"))
	assert.True(t, result.Success)
	assert.Equal(t, "file_not_found", result.ActionTaken)
}

func TestCompensateResourceAllocationReleasesViaCollaborator(t *testing.T) {
	rel := &fakeReleaser{}
	m := New(Collaborators{Resources: rel})
	result := m.Compensate(context.Background(), Operation{
		Type: "resource_allocation",
		Data: map[string]interface{}{"allocation_id": "alloc-1", "resource_type": "gpu"},
	}, errors.New("failed"))

	assert.True(t, result.Success)
	assert.Equal(t, []string{"alloc-1"}, rel.released)
	assert.Contains(t, result.ActionTaken, "released_gpu")
}

func TestCompensateTaskSubmissionReportsAlreadyProcessedWhenNotCancelled(t *testing.T) {
	m := New(Collaborators{Tasks: &fakeCanceller{cancelled: false}})
	result := m.Compensate(context.Background(), Operation{
		Type: "task_submission",
		Data: map[string]interface{}{"task_id": "task-1"},
	}, errors.New("failed"))

	assert.True(t, result.Success)
	assert.Contains(t, result.ActionTaken, "task_already_processed")
}

func TestCompensateTaskSubmissionHandlerErrorIsReportedNotPanicked(t *testing.T) {
	m := New(Collaborators{Tasks: failingCanceller{}})
	result := m.Compensate(context.Background(), Operation{
		Type: "task_submission",
		Data: map[string]interface{}{"task_id": "task-1"},
	}, errors.New("failed"))

	assert.False(t, result.Success)
	assert.Equal(t, "cancellation_failed", result.ActionTaken)

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalCompensations)
	assert.Equal(t, 0, stats.Successful)
}

func TestCompensateUnknownOperationTypeReturnsNoHandler(t *testing.T) {
	m := New(Collaborators{})
	result := m.Compensate(context.Background(), Operation{Type: "unheard_of"}, errors.New("x"))
	assert.False(t, result.Success)
	assert.Equal(t, "no_handler", result.ActionTaken)
}

func TestCompensateOutputGenerationRemovesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "out.png")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	m := New(Collaborators{})
	result := m.Compensate(context.Background(), Operation{
		Type: "output_generation",
		Data: map[string]interface{}{"output_paths": []string{existing}},
	}, errors.New("x"))

	assert.True(t, result.Success)
	assert.Contains(t, result.ActionTaken, "cleaned_outputs: 1")
}

func TestStatsAndFailedCompensationsTrackHistory(t *testing.T) {
	m := New(Collaborators{Tasks: failingCanceller{}})
	m.Compensate(context.Background(), Operation{OperationID: "op-1", Type: "task_submission", Data: map[string]interface{}{"task_id": "t1"}}, errors.New("orig"))
	m.Compensate(context.Background(), Operation{Type: "queue_operation"}, errors.New("orig"))

	stats := m.Stats()
	assert.Equal(t, 2, stats.TotalCompensations)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
	assert.Equal(t, 1, stats.FailedCompensationsPending)
	assert.Len(t, m.FailedCompensations(), 1)
}
