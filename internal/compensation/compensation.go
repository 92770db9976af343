package compensation

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
)

// ResourceReleaser releases a resource allocation made by a since-failed
// operation. External collaborator: the Resource Ledger (C2) itself.
type ResourceReleaser interface {
	ReleaseAllocation(ctx context.Context, allocationID, resourceType string) error
}

// TaskCanceller cancels a submitted task that should not proceed.
type TaskCanceller interface {
	CancelTask(ctx context.Context, taskID, queueName string) (bool, error)
}

// ModelUnloader unloads a model that was partially loaded.
type ModelUnloader interface {
	UnloadModel(ctx context.Context, modelID, gpuID string) error
}

// Collaborators wires the Manager's optional external seams. A nil field
// degrades its handler to a logged no-op.
type Collaborators struct {
	Resources ResourceReleaser
	Tasks     TaskCanceller
	Models    ModelUnloader
}

type handlerFunc func(ctx context.Context, op Operation) Result

// Manager is the Compensation Manager (C8).
type Manager struct {
	handlers map[string]handlerFunc
	log      *logging.Logger

	mu                 sync.Mutex
	history            []Result
	failedCompensations []FailureRecord
}

// New builds a Manager with the seven handler types.
func New(collab Collaborators) *Manager {
	m := &Manager{log: logging.NewFromEnv("compensation")}
	m.handlers = map[string]handlerFunc{
		"file_upload":         m.compensateFileUpload,
		"resource_allocation": m.makeCompensateResourceAllocation(collab.Resources),
		"task_submission":     m.makeCompensateTaskSubmission(collab.Tasks),
		"model_loading":       m.makeCompensateModelLoading(collab.Models),
		"output_generation":   m.compensateOutputGeneration,
		"database_write":      m.compensateDatabaseWrite,
		"queue_operation":     m.compensateQueueOperation,
	}
	return m
}

// Compensate runs the handler registered for operation.Type, recording the
// outcome. A handler error or a panic is itself treated as a failed
// compensation and recorded for manual review — it never propagates.
func (m *Manager) Compensate(ctx context.Context, operation Operation, cause error) Result {
	handler, ok := m.handlers[operation.Type]
	if !ok {
		m.log.WithFields(map[string]interface{}{"operation_type": operation.Type}).
			Warn("no compensation handler for operation type")
		result := Result{OperationType: operation.Type, ActionTaken: "no_handler", Error: "no compensation handler available"}
		m.record(result)
		return result
	}

	result := m.runHandler(ctx, handler, operation, cause)
	if !result.Success && result.ActionTaken != "compensation_failed" {
		m.recordFailure(operation, cause, fmt.Errorf("%s: %s", result.ActionTaken, result.Error))
	}
	m.record(result)
	return result
}

func (m *Manager) runHandler(ctx context.Context, handler handlerFunc, operation Operation, cause error) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			compErr := fmt.Errorf("compensation handler panicked: %v", r)
			m.recordFailure(operation, cause, compErr)
			result = Result{OperationType: operation.Type, ActionTaken: "compensation_failed", Error: compErr.Error()}
		}
	}()
	return handler(ctx, operation)
}

func (m *Manager) record(r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, r)
}

func (m *Manager) recordFailure(operation Operation, cause, compErr error) {
	origMsg := ""
	if cause != nil {
		origMsg = cause.Error()
	}
	rec := FailureRecord{
		Operation:         operation,
		OriginalError:     origMsg,
		CompensationError: compErr.Error(),
	}
	m.mu.Lock()
	m.failedCompensations = append(m.failedCompensations, rec)
	m.mu.Unlock()
	m.log.WithFields(map[string]interface{}{
		"operation_id":   operation.OperationID,
		"operation_type": operation.Type,
	}).WithError(compErr).Error("compensation failure recorded for manual intervention")
}

// Stats returns aggregate compensation outcome counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.history)
	successful := 0
	for _, r := range m.history {
		if r.Success {
			successful++
		}
	}
	s := Stats{
		TotalCompensations:         total,
		Successful:                 successful,
		Failed:                     total - successful,
		FailedCompensationsPending: len(m.failedCompensations),
	}
	if total > 0 {
		s.SuccessRate = float64(successful) / float64(total)
	}
	return s
}

// FailedCompensations returns a copy of the compensations that themselves
// failed and still need manual intervention.
func (m *Manager) FailedCompensations() []FailureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FailureRecord, len(m.failedCompensations))
	copy(out, m.failedCompensations)
	return out
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// compensateFileUpload removes a partially uploaded file and its temp
// counterpart. Plain os calls here: no ecosystem filesystem library
// improves on stdlib for a single remove-if-exists operation.
func (m *Manager) compensateFileUpload(ctx context.Context, op Operation) Result {
	filePath := stringField(op.Data, "file_path")
	if filePath == "" {
		return Result{Success: true, OperationType: op.Type, ActionTaken: "no_file_to_clean"}
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return Result{Success: true, OperationType: op.Type, ActionTaken: "file_not_found"}
	}

	if err := os.Remove(filePath); err != nil {
		return Result{Success: false, OperationType: op.Type, ActionTaken: "cleanup_failed", Error: err.Error()}
	}
	m.log.WithFields(map[string]interface{}{"file_path": filePath}).Info("cleaned up partial upload")

	if tempPath := stringField(op.Data, "temp_path"); tempPath != "" {
		if _, err := os.Stat(tempPath); err == nil {
			_ = os.Remove(tempPath)
		}
	}

	return Result{Success: true, OperationType: op.Type, ActionTaken: "removed_file: " + filePath}
}

func (m *Manager) makeCompensateResourceAllocation(rel ResourceReleaser) handlerFunc {
	return func(ctx context.Context, op Operation) Result {
		allocationID := stringField(op.Data, "allocation_id")
		resourceType := stringField(op.Data, "resource_type")
		if resourceType == "" {
			resourceType = "unknown"
		}
		if allocationID == "" {
			return Result{Success: true, OperationType: op.Type, ActionTaken: "no_allocation_to_release"}
		}

		if rel != nil {
			if err := rel.ReleaseAllocation(ctx, allocationID, resourceType); err != nil {
				return Result{Success: false, OperationType: op.Type, ActionTaken: "release_failed", Error: err.Error()}
			}
			m.log.WithFields(map[string]interface{}{"allocation_id": allocationID, "resource_type": resourceType}).Info("released allocation")
		}

		return Result{Success: true, OperationType: op.Type, ActionTaken: fmt.Sprintf("released_%s: %s", resourceType, allocationID)}
	}
}

func (m *Manager) makeCompensateTaskSubmission(canceller TaskCanceller) handlerFunc {
	return func(ctx context.Context, op Operation) Result {
		taskID := stringField(op.Data, "task_id")
		queueName := stringField(op.Data, "queue_name")
		if queueName == "" {
			queueName = "default"
		}
		if taskID == "" {
			return Result{Success: true, OperationType: op.Type, ActionTaken: "no_task_to_cancel"}
		}

		action := "task_queue_not_available"
		if canceller != nil {
			cancelled, err := canceller.CancelTask(ctx, taskID, queueName)
			if err != nil {
				return Result{Success: false, OperationType: op.Type, ActionTaken: "cancellation_failed", Error: err.Error()}
			}
			if cancelled {
				m.log.WithFields(map[string]interface{}{"task_id": taskID}).Info("cancelled task")
				action = "cancelled_task: " + taskID
			} else {
				action = "task_already_processed: " + taskID
			}
		}

		return Result{Success: true, OperationType: op.Type, ActionTaken: action}
	}
}

func (m *Manager) makeCompensateModelLoading(unloader ModelUnloader) handlerFunc {
	return func(ctx context.Context, op Operation) Result {
		modelID := stringField(op.Data, "model_id")
		gpuID := stringField(op.Data, "gpu_id")
		if modelID == "" {
			return Result{Success: true, OperationType: op.Type, ActionTaken: "no_model_to_unload"}
		}

		if unloader != nil {
			if err := unloader.UnloadModel(ctx, modelID, gpuID); err != nil {
				return Result{Success: false, OperationType: op.Type, ActionTaken: "unload_failed", Error: err.Error()}
			}
			m.log.WithFields(map[string]interface{}{"model_id": modelID}).Info("unloaded model")
		}

		return Result{Success: true, OperationType: op.Type, ActionTaken: "unloaded_model: " + modelID}
	}
}

func (m *Manager) compensateOutputGeneration(ctx context.Context, op Operation) Result {
	rawPaths, _ := op.Data["output_paths"].([]string)
	if len(rawPaths) == 0 {
		return Result{Success: true, OperationType: op.Type, ActionTaken: "no_outputs_to_clean"}
	}

	var cleaned, failed []string
	for _, path := range rawPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			failed = append(failed, path)
			continue
		}
		cleaned = append(cleaned, path)
		m.log.WithFields(map[string]interface{}{"path": path}).Info("cleaned up partial output")
	}

	if len(failed) > 0 {
		return Result{
			Success:       false,
			OperationType: op.Type,
			ActionTaken:   fmt.Sprintf("partial_cleanup: cleaned=%d, failed=%d", len(cleaned), len(failed)),
			Error:         fmt.Sprintf("failed to clean some outputs: %v", failed),
		}
	}

	return Result{Success: true, OperationType: op.Type, ActionTaken: fmt.Sprintf("cleaned_outputs: %d files", len(cleaned))}
}

// compensateDatabaseWrite logs the rollback that would occur against the
// real store; the actual write-path connector lives outside this component's
// scope and is left as a logged placeholder.
func (m *Manager) compensateDatabaseWrite(ctx context.Context, op Operation) Result {
	transactionID := stringField(op.Data, "transaction_id")
	if transactionID == "" {
		return Result{Success: true, OperationType: op.Type, ActionTaken: "no_transaction_to_rollback"}
	}

	m.log.WithFields(map[string]interface{}{
		"transaction_id": transactionID,
		"table":          stringField(op.Data, "table_name"),
		"record_id":      stringField(op.Data, "record_id"),
	}).Info("would rollback transaction")

	return Result{Success: true, OperationType: op.Type, ActionTaken: "rollback_logged: " + transactionID}
}

func (m *Manager) compensateQueueOperation(ctx context.Context, op Operation) Result {
	queueOp := stringField(op.Data, "queue_operation")
	messageID := stringField(op.Data, "message_id")

	action := "no_queue_action_needed"
	if queueOp == "publish" && messageID != "" {
		m.log.WithFields(map[string]interface{}{
			"message_id": messageID,
			"queue":      stringField(op.Data, "queue_name"),
		}).Info("would remove message from queue")
		action = "message_removal_logged: " + messageID
	}

	return Result{Success: true, OperationType: op.Type, ActionTaken: action}
}
