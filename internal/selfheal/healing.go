package selfheal

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
)

// WorkerRestarter restarts an unresponsive worker, graceful first.
type WorkerRestarter interface {
	RestartWorker(ctx context.Context, workerID string, graceful bool) (bool, error)
}

// WorkerScaler reports and adjusts the worker pool's target size.
type WorkerScaler interface {
	WorkerCount(ctx context.Context) (int, error)
	ScaleWorkers(ctx context.Context, target int) (bool, error)
}

// QueueRestarter restarts stalled queue processing.
type QueueRestarter interface {
	RestartProcessing(ctx context.Context) (bool, error)
}

// CacheClearer drops in-memory caches the Healer doesn't own directly.
type CacheClearer interface {
	ClearCaches(ctx context.Context) error
}

// StorageCleaner deletes outputs older than the given age.
type StorageCleaner interface {
	CleanupOldFiles(ctx context.Context, olderThanDays int) (int, error)
	ArchiveOldProjects(ctx context.Context, olderThanDays int) (int, error)
}

// Collaborators wires the Healer's optional external seams.
type Collaborators struct {
	Workers WorkerRestarter
	Scaler  WorkerScaler
	Queue   QueueRestarter
	Cache   CacheClearer
	Storage StorageCleaner
}

type healFunc func(ctx context.Context, issue Issue) Result

// Healer dispatches detected issues to a remediation handler (C9's
// "healing_actions" table).
type Healer struct {
	diagnostics *Diagnostics
	handlers    map[IssueType]healFunc
	log         *logging.Logger

	mu       sync.Mutex
	history  []Record
	limiter  *rate.Limiter
}

// New builds a Healer over diagnostics, wiring the eight remediation
// handlers by issue type. The model-corruption handler performs no repair
// and reports model_validation_not_implemented.
func New(diagnostics *Diagnostics, collab Collaborators) *Healer {
	h := &Healer{diagnostics: diagnostics, log: logging.NewFromEnv("selfheal")}
	h.handlers = map[IssueType]healFunc{
		IssueWorkerUnresponsive: h.healUnresponsiveWorker(collab.Workers),
		IssueQueueBacklog:       h.healQueueBacklog(collab.Scaler),
		IssueQueueStalled:       h.healStalledQueue(collab.Queue),
		IssueResourceLeak:       h.healResourceLeak(collab.Cache),
		IssueHighCPU:            h.healHighCPU(),
		IssueLowDiskSpace:       h.healLowDiskSpace(collab.Storage),
		IssueWorkspaceFull:      h.healWorkspaceFull(collab.Storage),
		IssueModelCorruption:    h.healModelCorruption(),
	}
	return h
}

// DiagnoseAndHeal runs one diagnostics pass and attempts to heal every
// issue found.
func (h *Healer) DiagnoseAndHeal(ctx context.Context) []Result {
	issues := h.diagnostics.RunDiagnostics(ctx)
	results := make([]Result, 0, len(issues))
	for _, issue := range issues {
		results = append(results, h.attemptHealing(ctx, issue))
	}
	return results
}

func (h *Healer) attemptHealing(ctx context.Context, issue Issue) (result Result) {
	handler, ok := h.handlers[issue.Type]
	if !ok {
		h.log.WithFields(map[string]interface{}{"issue_type": issue.Type}).Warn("no healing action for issue type")
		return Result{Issue: issue, Action: "no_handler"}
	}

	defer func() {
		if r := recover(); r != nil {
			result = Result{Issue: issue, Action: "healing_exception", Reason: fmt.Sprintf("%v", r)}
			h.record(Record{Issue: issue, Action: "healing_failed", Success: false})
		}
	}()

	result = handler(ctx, issue)
	h.record(Record{Issue: issue, Action: result.Action, Success: result.Success})
	return result
}

func (h *Healer) record(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, r)
}

func (h *Healer) healUnresponsiveWorker(workers WorkerRestarter) healFunc {
	return func(ctx context.Context, issue Issue) Result {
		if workers == nil {
			return Result{Issue: issue, Action: "no_worker_manager", Reason: "worker manager not available"}
		}
		workerID := issue.Target
		restarted, err := workers.RestartWorker(ctx, workerID, true)
		if (err != nil || !restarted) {
			restarted, err = workers.RestartWorker(ctx, workerID, false)
		}
		result := Result{Issue: issue, Success: restarted && err == nil, Action: "restarted_worker_" + workerID}
		if !result.Success {
			result.Reason = "failed to restart worker"
		}
		return result
	}
}

func (h *Healer) healQueueBacklog(scaler WorkerScaler) healFunc {
	return func(ctx context.Context, issue Issue) Result {
		if scaler == nil {
			return Result{Issue: issue, Action: "no_worker_manager", Reason: "worker manager not available"}
		}
		current, err := scaler.WorkerCount(ctx)
		if err != nil {
			return Result{Issue: issue, Action: "scale_failed", Reason: err.Error()}
		}
		target := current + 2
		scaled, err := scaler.ScaleWorkers(ctx, target)
		result := Result{Issue: issue, Success: scaled && err == nil, Action: fmt.Sprintf("scaled_workers_to_%d", target)}
		if !result.Success {
			result.Reason = "failed to scale workers"
		}
		return result
	}
}

func (h *Healer) healStalledQueue(queue QueueRestarter) healFunc {
	return func(ctx context.Context, issue Issue) Result {
		if queue == nil {
			return Result{Issue: issue, Action: "no_queue_manager", Reason: "queue manager not available"}
		}
		restarted, err := queue.RestartProcessing(ctx)
		result := Result{Issue: issue, Success: restarted && err == nil, Action: "restarted_queue_processing"}
		if !result.Success {
			result.Reason = "failed to restart queue"
		}
		return result
	}
}

func (h *Healer) healResourceLeak(cache CacheClearer) healFunc {
	return func(ctx context.Context, issue Issue) Result {
		runtime.GC()
		if cache != nil {
			_ = cache.ClearCaches(ctx)
		}
		return Result{Issue: issue, Success: true, Action: "cleared_memory_and_caches"}
	}
}

// healHighCPU throttles task processing via a local token-bucket limiter
// (30 tasks/minute); Limiter is exposed so the dispatcher can call Allow()
// on its submission path once this issue fires.
func (h *Healer) healHighCPU() healFunc {
	return func(ctx context.Context, issue Issue) Result {
		h.mu.Lock()
		h.limiter = rate.NewLimiter(rate.Limit(30.0/60.0), 1)
		h.mu.Unlock()
		return Result{Issue: issue, Success: true, Action: "throttled_task_processing"}
	}
}

// Limiter returns the rate limiter installed by the last high-CPU
// remediation, or nil if none has fired yet.
func (h *Healer) Limiter() *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.limiter
}

func (h *Healer) healLowDiskSpace(storage StorageCleaner) healFunc {
	return func(ctx context.Context, issue Issue) Result {
		if storage == nil {
			return Result{Issue: issue, Action: "no_storage_manager", Reason: "storage manager not available"}
		}
		cleaned, err := storage.CleanupOldFiles(ctx, 7)
		result := Result{Issue: issue, Success: err == nil && cleaned > 0, Action: fmt.Sprintf("cleaned_%d_old_files", cleaned)}
		if !result.Success {
			result.Reason = "no files to clean"
		}
		return result
	}
}

func (h *Healer) healWorkspaceFull(storage StorageCleaner) healFunc {
	return func(ctx context.Context, issue Issue) Result {
		if storage == nil {
			return Result{Issue: issue, Action: "no_storage_manager", Reason: "storage manager not available"}
		}
		archived, err := storage.ArchiveOldProjects(ctx, 30)
		result := Result{Issue: issue, Success: err == nil && archived > 0, Action: fmt.Sprintf("archived_%d_old_projects", archived)}
		if !result.Success {
			result.Reason = "no projects to archive"
		}
		return result
	}
}

// healModelCorruption is left unimplemented: re-validating/re-downloading
// models is out of scope.
func (h *Healer) healModelCorruption() healFunc {
	return func(ctx context.Context, issue Issue) Result {
		return Result{Issue: issue, Action: "model_validation_not_implemented", Reason: "model healing not yet implemented"}
	}
}

// Stats reports cumulative healing attempt/success/failure counters.
func (h *Healer) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	byType := make(map[IssueType]TypeStats)
	successful := 0
	for _, r := range h.history {
		ts := byType[r.Issue.Type]
		ts.Attempts++
		if r.Success {
			ts.Successes++
			successful++
		}
		byType[r.Issue.Type] = ts
	}

	recent := h.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	recentCopy := make([]Record, len(recent))
	copy(recentCopy, recent)

	stats := Stats{
		TotalAttempts: len(h.history),
		Successful:    successful,
		ByIssueType:   byType,
		Recent:        recentCopy,
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalAttempts)
	}
	return stats
}
