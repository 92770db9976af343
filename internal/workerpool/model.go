// Package workerpool implements the Worker Pool Manager (C6): spawn/
// terminate of heterogeneous workers, admission against the Resource
// Ledger, scaling and health loops, and a shared-directory registration
// with heartbeat-refreshed TTL.
package workerpool

import (
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/ledger"
)

// Status is a worker's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusStopping Status = "stopping"
	StatusFailed   Status = "failed"
)

// Worker is one tracked worker instance.
type Worker struct {
	ID              string
	Type            ledger.WorkerType
	Status          Status
	Resources       ledger.Resources
	Queues          []string
	StartedAt       time.Time
	LastHeartbeat   time.Time
	TasksCompleted  int
	TasksFailed     int
	CurrentTaskID   string
	IdleSince       *time.Time
}

// queuesForType maps a worker type to the task queues it services.
func queuesForType(t ledger.WorkerType) []string {
	switch t {
	case ledger.WorkerGPU:
		return []string{"gpu", "generation"}
	case ledger.WorkerCPU:
		return []string{"cpu", "processing"}
	case ledger.WorkerIO:
		return []string{"io", "file_operations"}
	default:
		return []string{"default"}
	}
}
