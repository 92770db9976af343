// Package progress implements the Progress Tracker (C5): a per-task stage
// state machine with weighted overall progress, historical-percentile ETA
// prediction, bounded logs, and preview-generation gating.
package progress

import "time"

// StageStatus is one stage's lifecycle state.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// TaskStatus is the task's derived overall status.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskPreparing  TaskStatus = "preparing"
	TaskExecuting  TaskStatus = "executing"
	TaskFinalizing TaskStatus = "finalizing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Stage is one named, weighted phase of a task's execution.
type Stage struct {
	Name        string
	Description string
	Weight      float64
}

// StageProgress is a stage's live state.
type StageProgress struct {
	Name        string                 `json:"name"`
	Weight      float64                `json:"weight"`
	Status      StageStatus            `json:"status"`
	Progress    float64                `json:"progress"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// LogEntry is one bounded-FIFO log line attached to a task's progress.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Stage     int                    `json:"stage,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TaskProgress is the full progress record for one task.
type TaskProgress struct {
	TaskID        string                 `json:"task_id"`
	TemplateID    string                 `json:"template_id"`
	Quality       string                 `json:"quality,omitempty"`
	Status        TaskStatus             `json:"status"`
	CurrentStage  int                    `json:"current_stage"`
	TotalStages   int                    `json:"total_stages"`
	Stages        []StageProgress        `json:"stages"`
	OverallProgress float64              `json:"overall_progress"`
	ETA           *time.Time             `json:"eta,omitempty"`
	ETAConfidence float64                `json:"eta_confidence,omitempty"`
	PreviewURL    string                 `json:"preview_url,omitempty"`
	ResourceUsage map[string]float64     `json:"resource_usage,omitempty"`
	Logs          []LogEntry             `json:"logs,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

const maxLogEntries = 1000

// TaskHistory is one completed task's recorded timing, used by ETA
// prediction's historical-percentile estimator.
type TaskHistory struct {
	TaskID         string
	TemplateID     string
	Quality        string
	StageDurations map[int]float64 // seconds, by stage index
	TotalDuration  float64         // seconds
	CompletedAt    time.Time
	Success        bool
}

// ProgressUpdate is the pub/sub fan-out payload every subscriber receives.
type ProgressUpdate struct {
	TaskID          string      `json:"task_id"`
	Status          TaskStatus  `json:"status"`
	CurrentStage    int         `json:"current_stage"`
	OverallProgress float64     `json:"overall_progress"`
	ETA             *time.Time  `json:"eta,omitempty"`
	PreviewURL      string      `json:"preview_url,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}
