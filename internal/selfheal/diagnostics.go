package selfheal

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
)

// UnhealthyWorker describes one worker the diagnostics found unresponsive.
type UnhealthyWorker struct {
	ID            string
	LastHeartbeat time.Time
	Status        string
}

// WorkerHealthSource reports workers that have failed their heartbeat or
// failure-rate thresholds. External collaborator: the Worker Pool Manager
// (C6).
type WorkerHealthSource interface {
	UnhealthyWorkers(ctx context.Context) ([]UnhealthyWorker, error)
}

// QueueStats is a point-in-time read of task queue pressure.
type QueueStats struct {
	Depth           int
	ProcessingRate  float64 // completions/sec
}

// QueueStatsSource reports current queue pressure.
type QueueStatsSource interface {
	Stats(ctx context.Context) (QueueStats, error)
}

// backlogWindowSeconds is the 5-minute backlog threshold: queue depth
// exceeding rate * backlogWindowSeconds signals a growing backlog.
const backlogWindowSeconds = 300

// Thresholds configures the resource-pressure checks (all percentages).
type Thresholds struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskPercent      float64
	WorkspacePercent float64
}

// DefaultThresholds returns the default CPU/memory/disk/workspace
// pressure thresholds (90/90/95/90).
func DefaultThresholds() Thresholds {
	return Thresholds{CPUPercent: 90, MemoryPercent: 90, DiskPercent: 95, WorkspacePercent: 90}
}

// Diagnostics runs the system health checks.
type Diagnostics struct {
	workers       WorkerHealthSource
	queue         QueueStatsSource
	thresholds    Thresholds
	workspacePath string
	log           *logging.Logger
}

// NewDiagnostics builds a Diagnostics. workspacePath is the directory
// whose free space backs task outputs.
func NewDiagnostics(workers WorkerHealthSource, queue QueueStatsSource, thresholds Thresholds, workspacePath string) *Diagnostics {
	if workspacePath == "" {
		workspacePath = "."
	}
	return &Diagnostics{
		workers: workers, queue: queue, thresholds: thresholds,
		workspacePath: workspacePath,
		log:           logging.NewFromEnv("selfheal"),
	}
}

type checkFunc func(ctx context.Context) ([]Issue, error)

// RunDiagnostics executes every check, converting a check's own failure
// into a diagnostic_failure issue rather than aborting the whole pass.
func (d *Diagnostics) RunDiagnostics(ctx context.Context) []Issue {
	checks := map[string]checkFunc{
		"worker_health":         d.checkWorkerHealth,
		"queue_depth":           d.checkQueueDepth,
		"resource_usage":        d.checkResourceUsage,
		"model_integrity":       d.checkModelIntegrity,
		"storage_space":         d.checkStorageSpace,
		"network_connectivity":  d.checkNetworkConnectivity,
		"service_availability":  d.checkServiceAvailability,
	}

	var issues []Issue
	for name, check := range checks {
		found, err := check(ctx)
		if err != nil {
			d.log.WithError(err).WithFields(map[string]interface{}{"check": name}).Error("diagnostic check failed")
			issues = append(issues, Issue{
				Type: IssueDiagnosticFailure, Severity: classifier.SeverityMedium,
				Target: name, Details: map[string]interface{}{"error": err.Error()},
			})
			continue
		}
		issues = append(issues, found...)
	}
	return issues
}

func (d *Diagnostics) checkWorkerHealth(ctx context.Context) ([]Issue, error) {
	if d.workers == nil {
		return nil, nil
	}
	unhealthy, err := d.workers.UnhealthyWorkers(ctx)
	if err != nil {
		return nil, nil // swallowed: worker health is best-effort
	}
	issues := make([]Issue, 0, len(unhealthy))
	for _, w := range unhealthy {
		issues = append(issues, Issue{
			Type: IssueWorkerUnresponsive, Severity: classifier.SeverityHigh, Target: w.ID,
			Details: map[string]interface{}{"last_heartbeat": w.LastHeartbeat, "status": w.Status},
		})
	}
	return issues, nil
}

func (d *Diagnostics) checkQueueDepth(ctx context.Context) ([]Issue, error) {
	if d.queue == nil {
		return nil, nil
	}
	stats, err := d.queue.Stats(ctx)
	if err != nil {
		return nil, nil
	}

	var issues []Issue
	if float64(stats.Depth) > stats.ProcessingRate*backlogWindowSeconds {
		estimatedWait := 0.0
		if stats.ProcessingRate > 0 {
			estimatedWait = float64(stats.Depth) / stats.ProcessingRate
		}
		issues = append(issues, Issue{
			Type: IssueQueueBacklog, Severity: classifier.SeverityMedium,
			Details: map[string]interface{}{"depth": stats.Depth, "rate": stats.ProcessingRate, "estimated_wait_seconds": estimatedWait},
		})
	}
	if stats.ProcessingRate == 0 && stats.Depth > 0 {
		issues = append(issues, Issue{
			Type: IssueQueueStalled, Severity: classifier.SeverityHigh,
			Details: map[string]interface{}{"depth": stats.Depth},
		})
	}
	return issues, nil
}

func (d *Diagnostics) checkResourceUsage(ctx context.Context) ([]Issue, error) {
	var issues []Issue

	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(percents) > 0 {
		if percents[0] > d.thresholds.CPUPercent {
			issues = append(issues, Issue{
				Type: IssueHighCPU, Severity: classifier.SeverityHigh,
				Details: map[string]interface{}{"cpu_percent": percents[0]},
			})
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		if vm.UsedPercent > d.thresholds.MemoryPercent {
			issues = append(issues, Issue{
				Type: IssueResourceLeak, Severity: classifier.SeverityHigh,
				Details: map[string]interface{}{
					"memory_percent": vm.UsedPercent,
					"available_mb":   float64(vm.Available) / (1024 * 1024),
				},
			})
		}
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		if du.UsedPercent > d.thresholds.DiskPercent {
			issues = append(issues, Issue{
				Type: IssueLowDiskSpace, Severity: classifier.SeverityCritical,
				Details: map[string]interface{}{
					"disk_percent": du.UsedPercent,
					"free_gb":      float64(du.Free) / (1024 * 1024 * 1024),
				},
			})
		}
	}

	return issues, nil
}

// checkModelIntegrity is a placeholder matching the original: real model
// checksum verification lives outside this component's scope.
func (d *Diagnostics) checkModelIntegrity(ctx context.Context) ([]Issue, error) { return nil, nil }

func (d *Diagnostics) checkStorageSpace(ctx context.Context) ([]Issue, error) {
	du, err := disk.UsageWithContext(ctx, d.workspacePath)
	if err != nil {
		return nil, nil
	}
	if du.UsedPercent > d.thresholds.WorkspacePercent {
		return []Issue{{
			Type: IssueWorkspaceFull, Severity: classifier.SeverityHigh,
			Details: map[string]interface{}{
				"percent_used": du.UsedPercent,
				"free_gb":      float64(du.Free) / (1024 * 1024 * 1024),
			},
		}}, nil
	}
	return nil, nil
}

// checkNetworkConnectivity is a placeholder matching the original: would
// ping dependent external services.
func (d *Diagnostics) checkNetworkConnectivity(ctx context.Context) ([]Issue, error) { return nil, nil }

// checkServiceAvailability is a placeholder matching the original: would
// check Redis/database reachability.
func (d *Diagnostics) checkServiceAvailability(ctx context.Context) ([]Issue, error) { return nil, nil }
