package orchestrator

import (
	"context"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/ledger"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/selfheal"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/workerpool"
)

// notificationAdapter bridges ports.NotificationService (plain string
// severity) to recovery.NotificationService (classifier.Severity), the two
// outbound contracts recovery also consumes.
type notificationAdapter struct{ inner NotificationService }

// NotificationService is the orchestrator-side notification seam, with a
// string severity like ports.NotificationService; notificationAdapter
// turns it into recovery's classifier.Severity form.
type NotificationService interface {
	NotifyError(ctx context.Context, taskID, message string, severity string) error
}

func (n notificationAdapter) NotifyError(ctx context.Context, taskID, message string, severity classifier.Severity) error {
	if n.inner == nil {
		return nil
	}
	return n.inner.NotifyError(ctx, taskID, message, string(severity))
}

// RestartWorker implements selfheal.WorkerRestarter: terminate (graceful or
// forced) then spawn a replacement of the same type.
func (o *Orchestrator) RestartWorker(ctx context.Context, workerID string, graceful bool) (bool, error) {
	if o.pool == nil {
		return false, apierrors.New(apierrors.CodeDispatchError, "no worker pool configured")
	}
	wt := ledger.WorkerGeneral
	for _, w := range o.pool.Snapshot() {
		if w.ID == workerID {
			wt = w.Type
			break
		}
	}
	if err := o.pool.Terminate(ctx, workerID, graceful); err != nil {
		return false, err
	}
	if _, err := o.pool.Spawn(ctx, wt); err != nil {
		return false, err
	}
	return true, nil
}

// WorkerCount implements selfheal.WorkerScaler.
func (o *Orchestrator) WorkerCount(ctx context.Context) (int, error) {
	if o.pool == nil {
		return 0, nil
	}
	return len(o.pool.Snapshot()), nil
}

// ScaleWorkers implements selfheal.WorkerScaler: spawn up to target, or
// terminate idle workers down to target.
func (o *Orchestrator) ScaleWorkers(ctx context.Context, target int) (bool, error) {
	if o.pool == nil {
		return false, apierrors.New(apierrors.CodeDispatchError, "no worker pool configured")
	}
	for len(o.pool.Snapshot()) < target {
		if _, err := o.pool.Spawn(ctx, ledger.WorkerGeneral); err != nil {
			return false, err
		}
	}
	for len(o.pool.Snapshot()) > target {
		terminated := false
		for _, w := range o.pool.Snapshot() {
			if w.Status == workerpool.StatusIdle {
				if err := o.pool.Terminate(ctx, w.ID, true); err != nil {
					return false, err
				}
				terminated = true
				break
			}
		}
		if !terminated {
			break
		}
	}
	return true, nil
}

// UnhealthyWorkers implements selfheal.WorkerHealthSource.
func (o *Orchestrator) UnhealthyWorkers(ctx context.Context) ([]selfheal.UnhealthyWorker, error) {
	if o.pool == nil {
		return nil, nil
	}
	var out []selfheal.UnhealthyWorker
	for _, w := range o.pool.Snapshot() {
		if w.Status == workerpool.StatusFailed {
			out = append(out, selfheal.UnhealthyWorker{ID: w.ID, LastHeartbeat: w.LastHeartbeat, Status: string(w.Status)})
		}
	}
	return out, nil
}

// Stats implements selfheal.QueueStatsSource by combining the worker
// pool's own QueueInspector collaborator.
func (o *Orchestrator) Stats(ctx context.Context) (selfheal.QueueStats, error) {
	if o.queueInspector == nil {
		return selfheal.QueueStats{}, nil
	}
	depth, err := o.queueInspector.Depth(ctx)
	if err != nil {
		return selfheal.QueueStats{}, err
	}
	rate, err := o.queueInspector.ProcessingRate(ctx)
	if err != nil {
		return selfheal.QueueStats{}, err
	}
	return selfheal.QueueStats{Depth: depth, ProcessingRate: rate}, nil
}

// ReleaseAllocation implements compensation.ResourceReleaser: release a
// task's held ledger reservation, keyed by task id (compensation's
// "allocation_id").
func (o *Orchestrator) ReleaseAllocation(ctx context.Context, allocationID, resourceType string) error {
	o.mu.Lock()
	res, ok := o.allocations[allocationID]
	if ok {
		delete(o.allocations, allocationID)
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}
	o.ledger.Release(res)
	return nil
}

// CancelTask implements compensation.TaskCanceller: drop the task record
// so no further dispatch/retry touches it.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID, queueName string) (bool, error) {
	o.mu.Lock()
	_, existed := o.tasks[taskID]
	delete(o.tasks, taskID)
	o.mu.Unlock()
	return existed, nil
}

// UnloadModel is intentionally unimplemented: the model runtime lives
// behind WorkerRPC, which exposes no separate load/unload surface, so
// compensation's model_loading handler is wired with a nil ModelUnloader
// and degrades to a logged no-op.

func errKey(err error) (errorType, message string) {
	if oe := apierrors.As(err); oe != nil {
		switch oe.Code {
		case apierrors.CodeInsufficientRes:
			return "MemoryError", oe.Message
		case apierrors.CodeValidation:
			return "ValueError", oe.Message
		case apierrors.CodeWorkflowTimeout:
			return "TimeoutError", oe.Message
		case apierrors.CodeCircuitBreakerOpen:
			return "ConnectionError", oe.Message
		}
		return "", oe.Message
	}
	return "", err.Error()
}

func taskToMap(t *Task) map[string]interface{} {
	return map[string]interface{}{
		"task_id":     t.ID,
		"template_id": t.TemplateID,
		"version":     t.Version,
		"category":    t.Category,
		"inputs":      t.Inputs,
		"quality":     t.Quality,
		"project_id":  t.ProjectID,
		"shot_id":     t.ShotID,
		"user_id":     t.UserID,
		"priority":    t.Priority,
		"metadata":    t.Metadata,
	}
}
