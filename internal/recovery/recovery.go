package recovery

import (
	"context"
	"sync"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/resilience"
)

// Collaborators wires the Manager's optional external seams. Any field
// left nil degrades its strategy to a no-op side effect (it still returns
// the same Result).
type Collaborators struct {
	TaskQueue           TaskResubmitter
	ResourceQueue       ResourceWaitQueue
	DeadLetterQueue     DeadLetterQueue
	NotificationService NotificationService
	AlertService        AlertService
}

// Manager is the Recovery Manager (C7): dispatches classified errors to a
// strategy table, enforcing the recovery guard and keeping per-task error
// history.
type Manager struct {
	strategies map[classifier.Strategy]strategy
	history    *errorContextManager
	log        *logging.Logger

	mu      sync.Mutex
	metrics struct {
		totalAttempts  int64
		successful     int64
		failed         int64
	}
}

// New builds a Manager. Zero-value Collaborators is valid: every strategy
// still runs, it just has no external side effect to perform.
func New(collab Collaborators) *Manager {
	retryCfg := resilience.DefaultRetryConfig()
	m := &Manager{
		history: newErrorContextManager(),
		log:     logging.NewFromEnv("recovery"),
	}
	m.strategies = map[classifier.Strategy]strategy{
		classifier.StrategyRetryWithBackoff: &retryWithBackoffStrategy{resub: collab.TaskQueue, cfg: retryCfg},
		classifier.StrategyQueueAndWait:     &queueAndWaitStrategy{queue: collab.ResourceQueue},
		classifier.StrategyFailFast:         &failFastStrategy{notify: collab.NotificationService},
		classifier.StrategyDeadLetter:       &deadLetterStrategy{dlq: collab.DeadLetterQueue, alert: collab.AlertService},
		classifier.StrategyRetryOnce:        &retryWithBackoffStrategy{resub: collab.TaskQueue, cfg: retryCfg, capOne: true},
	}
	return m
}

// HandleError records and routes one already-classified failed attempt of a
// task through its strategy, after checking the recovery guard.
func (m *Manager) HandleError(ctx context.Context, rc Context, cause error, c classifier.Classification) Result {
	m.log.WithFields(map[string]interface{}{
		"task_id":      rc.TaskID,
		"template_id":  rc.TemplateID,
		"category":     c.Category,
		"error_type":   c.ErrorType,
		"recoverable":  c.Recoverable,
		"strategy":     c.Strategy,
	}).WithError(cause).Error("task error")

	m.history.addError(rc.TaskID, c)

	if !m.shouldAttemptRecovery(rc.TaskID, c) {
		result := Result{
			Success: false,
			Action:  ActionAbandoned,
			Reason:  "max recovery attempts exceeded or non-recoverable error",
		}
		m.history.addAttempt(rc.TaskID, result)
		return result
	}

	strat, ok := m.strategies[c.Strategy]
	if !ok {
		strat = m.strategies[classifier.StrategyFailFast]
	}

	result := m.execute(ctx, strat, rc, cause, c)
	m.history.addAttempt(rc.TaskID, result)

	m.mu.Lock()
	m.metrics.totalAttempts++
	if result.Success {
		m.metrics.successful++
	} else {
		m.metrics.failed++
	}
	m.mu.Unlock()

	return result
}

func (m *Manager) execute(ctx context.Context, strat strategy, rc Context, cause error, c classifier.Classification) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.metrics.failed++
			m.mu.Unlock()
			result = Result{Success: false, Action: ActionRecoveryFailed, Error: "recovery strategy panicked"}
		}
	}()
	return strat.recover(ctx, rc, cause, c)
}

// shouldAttemptRecovery abandons recovery when the error isn't recoverable
// and its strategy would retry or wait (fail_fast and dead_letter still run
// for non-recoverable errors), or the task has logged 5 or more errors in
// the last 5 minutes.
func (m *Manager) shouldAttemptRecovery(taskID string, c classifier.Classification) bool {
	if !c.Recoverable && c.Strategy != classifier.StrategyFailFast && c.Strategy != classifier.StrategyDeadLetter {
		return false
	}
	recent := m.history.recentErrors(taskID, guardWindow)
	if len(recent) >= guardMaxErrors {
		m.log.WithFields(map[string]interface{}{"task_id": taskID}).Warn("too many recovery attempts")
		return false
	}
	return true
}

// History returns taskID's recorded classifications, most-recent-last.
func (m *Manager) History(taskID string) []classifier.Classification {
	records := m.history.History(taskID)
	out := make([]classifier.Classification, len(records))
	for i, r := range records {
		out[i] = r.classification
	}
	return out
}

// ClearHistory drops a task's error and attempt history.
func (m *Manager) ClearHistory(taskID string) {
	m.history.clear(taskID)
}

// Stats reports cumulative recovery attempt/success/failure counters.
type Stats struct {
	TotalAttempts  int64
	Successful     int64
	Failed         int64
	SuccessRate    float64
}

// Stats returns a snapshot of recovery outcome counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		TotalAttempts: m.metrics.totalAttempts,
		Successful:    m.metrics.successful,
		Failed:        m.metrics.failed,
	}
	if s.TotalAttempts > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalAttempts)
	}
	return s
}
