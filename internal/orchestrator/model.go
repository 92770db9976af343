// Package orchestrator implements the Orchestrator/Dispatcher (C11): the
// single submission entry point wiring the Template Registry, Resource
// Ledger, Worker Pool, Circuit Breaker Set, Error Classifier, Recovery
// Manager, Compensation Manager, Self-Healing Loop and Error Analytics
// into one submit → execute → take-creation pipeline.
package orchestrator

import (
	"context"
	"time"
)

// SubmitRequest is the inbound submission payload.
type SubmitRequest struct {
	TemplateID string
	Version    string
	Inputs     map[string]interface{}
	Quality    string
	ProjectID  string
	ShotID     string
	UserID     string
	Priority   int
	Metadata   map[string]interface{}
}

// SubmitResult is what submit() returns immediately.
type SubmitResult struct {
	TaskID               string
	TrackingID            string
	Status                string
	EstimatedCompletion   *time.Time
}

// Task is the orchestrator's own record of a submission, owned by the
// Orchestrator for the task's whole lifetime.
type Task struct {
	ID         string
	TemplateID string
	Version    string
	Category   string
	Inputs     map[string]interface{}
	Quality    string
	ProjectID  string
	ShotID     string
	UserID     string
	Priority   int
	Metadata   map[string]interface{}
	CreatedAt  time.Time

	cancel context.CancelFunc
}

// TaskSummary is the listActive() projection.
type TaskSummary struct {
	TaskID     string
	TemplateID string
	Status     string
	ProjectID  string
	UserID     string
	CreatedAt  time.Time
}

// ListFilters narrows listActive() by optional user/project identity.
type ListFilters struct {
	UserID    string
	ProjectID string
}

// DeadLetterEntry is one parked-forever task, full context retained for
// manual operator intervention.
type DeadLetterEntry struct {
	Task      map[string]interface{}
	Error     string
	Timestamp time.Time
}

// WaitingTask is one resource-starved task parked by the queue_and_wait
// recovery strategy, re-admitted once WaitUntil elapses.
type WaitingTask struct {
	Task      map[string]interface{}
	Reason    string
	WaitUntil time.Time
}
