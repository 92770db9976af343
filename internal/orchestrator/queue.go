package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
)

const waitReaperInterval = 5 * time.Second

// dlqStore and waitStore are the orchestrator's own in-process analogues
// of the dead-letter queue and resource-wait queue external collaborators
// ("DLQ entries appended to a dedicated queue"). An in-memory
// implementation is enough to exercise the Recovery Manager's contracts; a
// production deployment would back these with the same shared state store
// Progress/Worker Pool use.
type dlqStore struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
}

func (d *dlqStore) Add(ctx context.Context, entry map[string]interface{}) error {
	errMsg, _ := entry["error"].(string)
	d.mu.Lock()
	d.entries = append(d.entries, DeadLetterEntry{Task: entry, Error: errMsg, Timestamp: time.Now()})
	d.mu.Unlock()
	return nil
}

func (d *dlqStore) Entries() []DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeadLetterEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

type waitStore struct {
	mu      sync.Mutex
	waiting []WaitingTask
}

func (w *waitStore) AddWaitingTask(ctx context.Context, task map[string]interface{}, reason string, waitUntil time.Time) error {
	w.mu.Lock()
	w.waiting = append(w.waiting, WaitingTask{Task: task, Reason: reason, WaitUntil: waitUntil})
	w.mu.Unlock()
	return nil
}

// due pops every waiting task whose WaitUntil has elapsed.
func (w *waitStore) due(now time.Time) []WaitingTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ready []WaitingTask
	var remaining []WaitingTask
	for _, t := range w.waiting {
		if now.After(t.WaitUntil) {
			ready = append(ready, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	w.waiting = remaining
	return ready
}

// resubmitter adapts resubmitTask to recovery.TaskResubmitter, keeping the
// unexported retry path separate from the public Submit(SubmitRequest) API.
type resubmitter struct{ o *Orchestrator }

func (r resubmitter) Submit(ctx context.Context, task map[string]interface{}) error {
	return r.o.resubmitTask(ctx, task)
}

// resubmitTask re-enqueues an already admitted, already-allocated task for
// another dispatch attempt (recovery.TaskResubmitter's underlying action).
func (o *Orchestrator) resubmitTask(ctx context.Context, task map[string]interface{}) error {
	taskID, _ := task["task_id"].(string)
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if ok {
		if t.Metadata == nil {
			t.Metadata = map[string]interface{}{}
		}
		for _, k := range []string{"retry_count", "previous_error", "retry_delay"} {
			if v, present := task[k]; present {
				t.Metadata[k] = v
			}
		}
	}
	o.mu.Unlock()
	if !ok {
		return apierrors.NotFound("task", taskID)
	}

	select {
	case o.queue <- taskID:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// waitReaperLoop periodically re-admits resource-starved tasks whose wait
// window has elapsed, so a separate reaper can re-admit tasks once
// resources free.
func (o *Orchestrator) waitReaperLoop(ctx context.Context) {
	ticker := time.NewTicker(waitReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, wt := range o.waits.due(now) {
				_ = o.resubmitTask(ctx, wt.Task)
			}
		}
	}
}
