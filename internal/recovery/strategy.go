package recovery

import (
	"context"
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/resilience"
)

// TaskResubmitter re-enqueues a task for another attempt. External
// collaborator: the queue/broker itself is out of this component's scope.
type TaskResubmitter interface {
	Submit(ctx context.Context, task map[string]interface{}) error
}

// ResourceWaitQueue parks a task until resources free up.
type ResourceWaitQueue interface {
	AddWaitingTask(ctx context.Context, task map[string]interface{}, reason string, waitUntil time.Time) error
}

// DeadLetterQueue records a permanently-failed task for manual review.
type DeadLetterQueue interface {
	Add(ctx context.Context, entry map[string]interface{}) error
}

// NotificationService notifies an end user about a task failure.
type NotificationService interface {
	NotifyError(ctx context.Context, taskID, message string, severity classifier.Severity) error
}

// AlertService pages an operator about a critical condition.
type AlertService interface {
	SendAlert(ctx context.Context, level, message string, details map[string]interface{}) error
}

// strategy is the common shape every recovery strategy implements.
type strategy interface {
	recover(ctx context.Context, rc Context, cause error, c classifier.Classification) Result
}

// retryWithBackoffStrategy re-submits the task after an exponential
// backoff delay, capped at the classification's max retries
// (or 1, when used as retry_once).
type retryWithBackoffStrategy struct {
	resub    TaskResubmitter
	cfg      resilience.RetryConfig
	capOne   bool
}

func (s *retryWithBackoffStrategy) recover(ctx context.Context, rc Context, cause error, c classifier.Classification) Result {
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if s.capOne {
		maxRetries = 1
	}
	attempt := rc.RetryCount + 1
	if attempt > maxRetries {
		return Result{
			Success: false,
			Action:  ActionMaxRetriesExceeded,
			Reason:  "exceeded maximum retries",
			Metadata: map[string]interface{}{"max_retries": maxRetries},
		}
	}

	delay := resilience.WithJitter(resilience.NextDelay(s.cfg, attempt), s.cfg.Jitter)

	if s.resub != nil {
		task := cloneTask(rc.OriginalTask)
		task["retry_count"] = attempt
		task["previous_error"] = cause.Error()
		task["retry_delay"] = delay.Seconds()
		go func() {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			_ = s.resub.Submit(context.Background(), task)
		}()
	}

	return Result{
		Success: true,
		Action:  ActionRetryScheduled,
		Metadata: map[string]interface{}{
			"attempt":         attempt,
			"delay_seconds":   delay.Seconds(),
			"next_attempt_at": time.Now().Add(delay),
		},
	}
}

func cloneTask(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src)+3)
	for k, v := range src {
		out[k] = v
	}
	return out
}

// queueAndWaitStrategy parks the task in a resource wait queue.
type queueAndWaitStrategy struct {
	queue ResourceWaitQueue
}

func (s *queueAndWaitStrategy) recover(ctx context.Context, rc Context, cause error, c classifier.Classification) Result {
	waitTime := c.WaitTime
	if waitTime <= 0 {
		waitTime = 300
	}
	waitUntil := time.Now().Add(time.Duration(waitTime) * time.Second)

	if s.queue != nil {
		_ = s.queue.AddWaitingTask(ctx, rc.OriginalTask, cause.Error(), waitUntil)
	}

	return Result{
		Success: true,
		Action:  ActionQueuedForResources,
		Metadata: map[string]interface{}{
			"wait_time_seconds": waitTime,
			"reason":            cause.Error(),
		},
	}
}

// failFastStrategy fails immediately, optionally notifying the user.
type failFastStrategy struct {
	notify NotificationService
}

func (s *failFastStrategy) recover(ctx context.Context, rc Context, cause error, c classifier.Classification) Result {
	notified := false
	if c.NotifyUser && s.notify != nil {
		if err := s.notify.NotifyError(ctx, rc.TaskID, cause.Error(), c.Severity); err == nil {
			notified = true
		}
	}
	return Result{
		Success:  false,
		Action:   ActionFailedValidation,
		Reason:   cause.Error(),
		Metadata: map[string]interface{}{"notified": notified},
	}
}

// deadLetterStrategy moves the task to the dead letter queue for manual
// intervention, alerting an admin when the classification requests it.
type deadLetterStrategy struct {
	dlq   DeadLetterQueue
	alert AlertService
}

func (s *deadLetterStrategy) recover(ctx context.Context, rc Context, cause error, c classifier.Classification) Result {
	if s.dlq != nil {
		_ = s.dlq.Add(ctx, map[string]interface{}{
			"task":            rc.OriginalTask,
			"error":           cause.Error(),
			"classification":  c,
			"task_id":         rc.TaskID,
			"template_id":     rc.TemplateID,
			"timestamp":       time.Now(),
		})
	}

	alerted := false
	if c.AlertAdmin && s.alert != nil {
		if err := s.alert.SendAlert(ctx, "critical",
			"task moved to dead letter queue",
			map[string]interface{}{"task_id": rc.TaskID, "template_id": rc.TemplateID, "error": cause.Error()},
		); err == nil {
			alerted = true
		}
	}

	return Result{
		Success:  false,
		Action:   ActionDeadLetterQueue,
		Reason:   "permanent failure - manual intervention required",
		Metadata: map[string]interface{}{"alerted": alerted},
	}
}
