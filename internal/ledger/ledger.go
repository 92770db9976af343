// Package ledger implements the Resource Ledger (C2): a single
// mutex-guarded admit/allocate/release accounting of the multi-dimensional
// capacity quota (CPU, memory, VRAM, GPU count) that admission and
// release bookkeeping needs.
package ledger

import (
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
)

// Resources is a point in the CPU/memory/VRAM/GPU-count resource space.
type Resources struct {
	CPUCores  float64
	MemoryGB  float64
	VRAMGB    float64
	GPUCount  float64
}

// Add returns the element-wise sum of r and o.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		CPUCores: r.CPUCores + o.CPUCores,
		MemoryGB: r.MemoryGB + o.MemoryGB,
		VRAMGB:   r.VRAMGB + o.VRAMGB,
		GPUCount: r.GPUCount + o.GPUCount,
	}
}

// Sub returns the element-wise difference r - o, floored at zero per
// dimension, guarding against double-release drift.
func (r Resources) Sub(o Resources) Resources {
	sub := func(a, b float64) float64 {
		v := a - b
		if v < 0 {
			return 0
		}
		return v
	}
	return Resources{
		CPUCores: sub(r.CPUCores, o.CPUCores),
		MemoryGB: sub(r.MemoryGB, o.MemoryGB),
		VRAMGB:   sub(r.VRAMGB, o.VRAMGB),
		GPUCount: sub(r.GPUCount, o.GPUCount),
	}
}

// Fits reports whether total minus allocated leaves enough headroom in
// every dimension to admit required: the admit-then-recheck predicate.
func Fits(total, allocated, required Resources) bool {
	avail := total.Sub(allocated)
	return avail.CPUCores >= required.CPUCores &&
		avail.MemoryGB >= required.MemoryGB &&
		avail.VRAMGB >= required.VRAMGB &&
		avail.GPUCount >= required.GPUCount
}

// WorkerType names the worker categories the static requirement table
// covers.
type WorkerType string

const (
	WorkerGeneral WorkerType = "general"
	WorkerGPU     WorkerType = "gpu"
	WorkerCPU     WorkerType = "cpu"
	WorkerIO      WorkerType = "io"
)

// RequirementTable returns the static per-worker-type resource cost.
func RequirementTable() map[WorkerType]Resources {
	return map[WorkerType]Resources{
		WorkerGeneral: {CPUCores: 1, MemoryGB: 2},
		WorkerGPU:     {CPUCores: 2, MemoryGB: 4, VRAMGB: 8, GPUCount: 1},
		WorkerCPU:     {CPUCores: 2, MemoryGB: 3},
		WorkerIO:      {CPUCores: 0.5, MemoryGB: 1},
	}
}

// Ledger is the single source of truth for capacity accounting. All
// mutation goes through one mutex, following a single-lock
// "allocate/release" discipline rather than per-dimension locks.
type Ledger struct {
	mu        sync.Mutex
	total     Resources
	allocated Resources
}

// New creates a Ledger with the given total capacity.
func New(total Resources) *Ledger {
	return &Ledger{total: total}
}

// Discover builds a Ledger from the host's actual CPU/memory capacity via
// gopsutil, with vram/gpu counts supplied by config (no portable GPU
// discovery exists in the corpus).
func Discover(vramGB, gpuCount float64) (*Ledger, error) {
	cores, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("ledger: detect cpu cores: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("ledger: detect memory: %w", err)
	}
	total := Resources{
		CPUCores: float64(cores),
		MemoryGB: float64(vm.Total) / (1024 * 1024 * 1024),
		VRAMGB:   vramGB,
		GPUCount: gpuCount,
	}
	return New(total), nil
}

// CanAdmit reports whether required would fit without mutating state.
func (l *Ledger) CanAdmit(required Resources) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Fits(l.total, l.allocated, required)
}

// Allocate admits and reserves required atomically, re-checking fit under
// lock (the "admit-then-recheck" pattern: a CanAdmit call racing another
// goroutine's Allocate must not double-book capacity).
func (l *Ledger) Allocate(resourceType string, required Resources) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !Fits(l.total, l.allocated, required) {
		avail := l.total.Sub(l.allocated)
		return apierrors.InsufficientResources(resourceType, requiredScalar(required), availableScalar(avail, required))
	}
	l.allocated = l.allocated.Add(required)
	return nil
}

// Release returns a previously allocated reservation to the pool.
func (l *Ledger) Release(allocated Resources) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allocated = l.allocated.Sub(allocated)
}

// Totals returns (total, allocated) as a consistent snapshot.
func (l *Ledger) Totals() (total, allocated Resources) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, l.allocated
}

// Utilization returns per-dimension allocated/total ratios (0 when total is
// zero), used by the Self-Healing Loop's resource-pressure checks.
func (l *Ledger) Utilization() map[string]float64 {
	l.mu.Lock()
	total, allocated := l.total, l.allocated
	l.mu.Unlock()

	ratio := func(a, t float64) float64 {
		if t <= 0 {
			return 0
		}
		return a / t
	}
	return map[string]float64{
		"cpu":    ratio(allocated.CPUCores, total.CPUCores),
		"memory": ratio(allocated.MemoryGB, total.MemoryGB),
		"vram":   ratio(allocated.VRAMGB, total.VRAMGB),
		"gpu":    ratio(allocated.GPUCount, total.GPUCount),
	}
}

// requiredScalar picks the dominant requested dimension for error reporting.
func requiredScalar(r Resources) float64 {
	max := r.CPUCores
	if r.MemoryGB > max {
		max = r.MemoryGB
	}
	if r.VRAMGB > max {
		max = r.VRAMGB
	}
	if r.GPUCount > max {
		max = r.GPUCount
	}
	return max
}

// availableScalar reports the available amount of whichever dimension
// dominated required, for symmetric error reporting.
func availableScalar(avail, required Resources) float64 {
	switch requiredScalar(required) {
	case required.MemoryGB:
		return avail.MemoryGB
	case required.VRAMGB:
		return avail.VRAMGB
	case required.GPUCount:
		return avail.GPUCount
	default:
		return avail.CPUCores
	}
}
