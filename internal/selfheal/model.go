// Package selfheal implements the Self-Healing Loop (C9): a periodic
// diagnostics pass over worker health, queue backlog, and host resource
// pressure, paired with a remediation handler per issue type.
package selfheal

import (
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
)

// IssueType names a category of detected problem.
type IssueType string

const (
	IssueWorkerUnresponsive IssueType = "worker_unresponsive"
	IssueQueueBacklog       IssueType = "queue_backlog"
	IssueQueueStalled       IssueType = "queue_stalled"
	IssueHighCPU            IssueType = "high_cpu_usage"
	IssueResourceLeak       IssueType = "resource_leak"
	IssueLowDiskSpace       IssueType = "low_disk_space"
	IssueWorkspaceFull      IssueType = "workspace_full"
	IssueModelCorruption    IssueType = "model_corruption"
	IssueDiagnosticFailure  IssueType = "diagnostic_failure"
)

// Issue is one detected problem.
type Issue struct {
	Type     IssueType
	Severity classifier.Severity
	Target   string
	Details  map[string]interface{}
}

// Result is the outcome of attempting to heal one Issue.
type Result struct {
	Success bool
	Action  string
	Reason  string
	Issue   Issue
}

// Record is one entry in the healing history.
type Record struct {
	Timestamp time.Time
	Issue     Issue
	Action    string
	Success   bool
}

// TypeStats aggregates attempts/successes for one issue type.
type TypeStats struct {
	Attempts  int
	Successes int
}

// Stats reports cumulative healing attempt/success/failure counters.
type Stats struct {
	TotalAttempts int
	Successful    int
	SuccessRate   float64
	ByIssueType   map[IssueType]TypeStats
	Recent        []Record
}
