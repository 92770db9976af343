package orchestrator

import (
	"context"
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/compensation"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/ports"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/progress"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/recovery"
)

// dispatchLoop pulls queued task ids and executes each under a bounded
// concurrency semaphore, mirroring a worker-pool dispatch
// shape, applied to the submission pipeline.
func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case taskID, ok := <-o.queue:
			if !ok {
				return
			}
			select {
			case o.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			o.wg.Add(1)
			go func(id string) {
				defer o.wg.Done()
				defer func() { <-o.sem }()
				o.executeTask(ctx, id)
			}(taskID)
		}
	}
}

// terminalActions are recovery.Result actions that end a task's lifetime:
// no further retry or wait is pending.
var terminalActions = map[recovery.Action]bool{
	recovery.ActionMaxRetriesExceeded: true,
	recovery.ActionFailedValidation:   true,
	recovery.ActionDeadLetterQueue:    true,
	recovery.ActionAbandoned:          true,
	recovery.ActionRecoveryFailed:     true,
}

func (o *Orchestrator) executeTask(ctx context.Context, taskID string) {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	o.mu.Unlock()
	if !ok {
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, o.taskTimeout)
	o.mu.Lock()
	task.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	tp, _ := o.progress.Get(taskCtx, taskID)
	total := 4
	if tp != nil && tp.TotalStages > 0 {
		total = tp.TotalStages
	}

	service, _ := task.Inputs["service"].(string)
	if service == "" {
		service = "default"
	}
	breaker := o.breakers.Get(service)

	if o.collab.Worker == nil {
		o.handleFailure(ctx, task, total, apierrors.Dispatch("no worker RPC configured", nil))
		return
	}

	var result ports.ExecutionResult
	execErr := breaker.Execute(taskCtx, func(c context.Context) error {
		r, err := o.collab.Worker.Execute(c, task.TemplateID, task.Version, task.Inputs, task.Metadata,
			func(ev ports.ProgressEvent) { o.handleProgressEvent(taskCtx, taskID, total, ev) })
		result = r
		return err
	})

	if execErr == nil {
		o.handleSuccess(taskCtx, task, total, result)
		return
	}
	o.handleFailure(ctx, task, total, execErr)
}

func (o *Orchestrator) handleProgressEvent(ctx context.Context, taskID string, total int, ev ports.ProgressEvent) {
	idx := stageIndexFor(total, ev.Kind)
	switch ev.Kind {
	case ports.ProgressError:
		_ = o.progress.UpdateStage(ctx, taskID, idx, progress.StageFailed, 0, ev.Message, nil)
	case ports.ProgressComplete:
		// the success path marks the final stage completed once Execute
		// itself returns; nothing to do here.
	default:
		_ = o.progress.UpdateStage(ctx, taskID, idx, progress.StageInProgress, ev.Progress, ev.Message, nil)
	}
	if ev.ResourceUsage != nil {
		_ = o.progress.UpdateResourceUsage(ctx, taskID, ev.ResourceUsage)
	}
	if ev.Log != "" {
		_ = o.progress.AddLog(ctx, taskID, "info", ev.Log, nil)
	}
}

// stageIndexFor maps a streamed progress callback kind onto the current
// template category's stage index. Every built-in stage set (see
// progress.StageSets) places "queue" at 0, an optional loading/preparation
// stage at 1 in four-stage sets, the dominant generation/execution stage
// second-to-last, and finalization/post-processing last.
func stageIndexFor(total int, kind ports.ProgressEventKind) int {
	last := total - 1
	executionIdx := last - 1
	if executionIdx < 0 {
		executionIdx = 0
	}
	switch kind {
	case ports.ProgressQueuePosition:
		return 0
	case ports.ProgressModelLoading:
		if total >= 4 {
			return 1
		}
		return executionIdx
	case ports.ProgressExecution:
		return executionIdx
	case ports.ProgressPostProcessing, ports.ProgressComplete:
		return last
	default:
		return executionIdx
	}
}

func (o *Orchestrator) handleSuccess(ctx context.Context, task *Task, total int, result ports.ExecutionResult) {
	last := total - 1
	for i := 0; i < last; i++ {
		_ = o.progress.UpdateStage(ctx, task.ID, i, progress.StageCompleted, 1, "", nil)
	}
	_ = o.progress.UpdateStage(ctx, task.ID, last, progress.StageCompleted, 1, "execution complete", nil)
	if result.ResourceUsage != nil {
		_ = o.progress.UpdateResourceUsage(ctx, task.ID, result.ResourceUsage)
	}

	if o.collab.Takes != nil {
		if _, err := o.collab.Takes.CreateTake(ctx, task.ProjectID, task.ShotID, result.Outputs, task.Metadata); err != nil {
			o.log.WithError(err).WithFields(map[string]interface{}{"task_id": task.ID}).Warn("take creation failed")
		}
	}

	if o.metrics != nil {
		o.metrics.RecordCompleted(task.TemplateID, time.Since(task.CreatedAt).Seconds())
	}

	o.releaseAllocation(task.ID)
	o.removeTask(task.ID)
}

func (o *Orchestrator) handleFailure(ctx context.Context, task *Task, total int, cause error) {
	errorType, message := errKey(cause)
	statusCode := classifier.StatusCodeFromMessage(message)
	c := classifier.Classify(errorType, message, statusCode)

	o.analytics.RecordError(ctx, c)
	if o.metrics != nil {
		o.metrics.RecordFailed(task.TemplateID, string(c.Category))
	}

	retryCount := 0
	if task.Metadata != nil {
		if v, ok := task.Metadata["retry_count"].(int); ok {
			retryCount = v
		}
	}
	rc := recovery.Context{TaskID: task.ID, TemplateID: task.TemplateID, RetryCount: retryCount, OriginalTask: taskToMap(task)}
	result := o.recoveryMgr.HandleError(ctx, rc, cause, c)
	o.analytics.RecordRecoveryAttempt(c.Category, result.Success)

	last := total - 1
	executionIdx := last - 1
	if executionIdx < 0 {
		executionIdx = 0
	}
	_ = o.progress.UpdateStage(ctx, task.ID, executionIdx, progress.StageFailed, 0, message, nil)

	if terminalActions[result.Action] {
		o.compensationMgr.Compensate(ctx, compensation.Operation{
			OperationID: task.ID,
			Type:        "resource_allocation",
			Data:        map[string]interface{}{"allocation_id": task.ID, "resource_type": "task"},
		}, cause)
		o.compensationMgr.Compensate(ctx, compensation.Operation{
			OperationID: task.ID,
			Type:        "task_submission",
			Data:        map[string]interface{}{"task_id": task.ID},
		}, cause)
		o.removeTask(task.ID)
	}
}

func (o *Orchestrator) releaseAllocation(taskID string) {
	o.mu.Lock()
	res, ok := o.allocations[taskID]
	if ok {
		delete(o.allocations, taskID)
	}
	o.mu.Unlock()
	if ok {
		o.ledger.Release(res)
	}
}

func (o *Orchestrator) removeTask(taskID string) {
	o.mu.Lock()
	delete(o.tasks, taskID)
	o.mu.Unlock()
}
