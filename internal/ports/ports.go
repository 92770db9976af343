// Package ports defines the Orchestrator's outbound collaborator
// contracts: the Go interfaces the core consumes but never implements.
// Transport framing, on-disk take layout, and the actual model-inference
// runtime live behind these seams, following the same collaborator-
// interface pattern used throughout recovery/compensation/selfheal.
package ports

import (
	"context"
	"time"
)

// ExecutionResult is what a Worker RPC call returns on success.
type ExecutionResult struct {
	Outputs       map[string]interface{}
	ResourceUsage map[string]float64
	Duration      time.Duration
}

// ProgressEvent is one streamed callback from a running execution from a running worker RPC call.
type ProgressEvent struct {
	Kind          ProgressEventKind
	QueuePosition int
	Progress      float64
	Message       string
	ResourceUsage map[string]float64
	Log           string
	Error         string
}

// ProgressEventKind enumerates the callback phases a Worker RPC may emit.
type ProgressEventKind string

const (
	ProgressQueuePosition  ProgressEventKind = "queue_position"
	ProgressModelLoading   ProgressEventKind = "model_loading"
	ProgressExecution      ProgressEventKind = "execution_progress"
	ProgressPostProcessing ProgressEventKind = "post_processing"
	ProgressComplete       ProgressEventKind = "complete"
	ProgressError          ProgressEventKind = "error"
)

// ProgressCallback receives streamed updates from a WorkerRPC.Execute call.
type ProgressCallback func(ProgressEvent)

// WorkerRPC is the remote worker boundary: "execute template with inputs
// → outputs". The actual model-inference runtime is out of
// scope; this is only the contract the dispatcher calls through.
type WorkerRPC interface {
	Execute(ctx context.Context, templateID, version string, inputs, metadata map[string]interface{}, onProgress ProgressCallback) (ExecutionResult, error)
}

// Take is the artifact-version record created once a task completes.
type Take struct {
	TaskID    string
	ProjectID string
	ShotID    string
	Number    int
	Outputs   map[string]interface{}
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// TakesService creates takes with monotonically increasing per-shot
// numbering. Filesystem layout and Git/LFS versioning are out of scope;
// this is only the creation contract.
type TakesService interface {
	CreateTake(ctx context.Context, projectID, shotID string, outputs, metadata map[string]interface{}) (Take, error)
}

// Project is the minimal project record the orchestrator needs to
// validate a submission's project_id.
type Project struct {
	ID   string
	Name string
}

// WorkspaceService resolves project identity and asset:// references into
// concrete paths. On-disk layout itself is out of scope.
type WorkspaceService interface {
	GetProject(ctx context.Context, id string) (Project, error)
	ResolveAsset(ctx context.Context, projectID, assetID string) (path string, err error)
}

// NotificationService delivers user-facing error notifications (the same
// method as recovery.NotificationService but with a string severity;
// declared here as the orchestrator's own outbound seam).
type NotificationService interface {
	NotifyError(ctx context.Context, taskID, message string, severity string) error
}

// AlertService delivers operator-facing alerts (shared shape with
// recovery.AlertService / analytics.AlertService / selfheal's collaborator
// seams).
type AlertService interface {
	SendAlert(ctx context.Context, level, message string, details map[string]interface{}) error
}
