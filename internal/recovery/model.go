// Package recovery implements the Recovery Manager (C7): dispatches a
// classified error to the strategy its classification names, enforces the
// recovery guard (a non-recoverable error gets no retry or wait, though
// fail_fast and dead_letter still run; too many recent errors abandons
// recovery), and keeps the per-task error history the guard and the
// orchestrator's task-error-history admin call both read.
package recovery

import (
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
)

// guardWindow and guardMaxErrors: abandon recovery once a task has logged
// 5 or more errors within the last 5 minutes.
const (
	guardWindow     = 5 * time.Minute
	guardMaxErrors  = 5
	maxHistoryEntries = 200
)

// Action names the outcome a recovery attempt settles into.
type Action string

const (
	ActionRetryScheduled     Action = "retry_scheduled"
	ActionMaxRetriesExceeded Action = "max_retries_exceeded"
	ActionQueuedForResources Action = "queued_for_resources"
	ActionFailedValidation   Action = "failed_validation"
	ActionDeadLetterQueue    Action = "dead_letter_queue"
	ActionAbandoned          Action = "abandoned"
	ActionRecoveryFailed     Action = "recovery_failed"
)

// Context carries what a strategy needs to act on one failed attempt of a
// task. OriginalTask is opaque payload the retry strategy re-submits
// unchanged apart from the three fields it stamps on (retry_count,
// previous_error, retry_delay).
type Context struct {
	TaskID       string
	TemplateID   string
	RetryCount   int
	OriginalTask map[string]interface{}
}

// Result is what a strategy, or HandleError itself, returns.
type Result struct {
	Success  bool
	Action   Action
	Reason   string
	Error    string
	Metadata map[string]interface{}
}

// errorRecord is one entry in a task's error history.
type errorRecord struct {
	at             time.Time
	classification classifier.Classification
}

// attemptRecord is one recorded recovery attempt.
type attemptRecord struct {
	at     time.Time
	result Result
}
