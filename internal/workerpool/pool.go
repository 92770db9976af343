package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/ledger"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/state"
)

const directoryTTL = 5 * time.Minute

// ProcessLauncher starts/stops the out-of-process worker runtime. An
// external collaborator: the actual inference runtime is out of scope,
// this is only the seam the pool calls through.
type ProcessLauncher interface {
	Start(ctx context.Context, w *Worker) error
	Stop(ctx context.Context, w *Worker) error
}

// QueueInspector reports queue depth/throughput for the scaling loop.
type QueueInspector interface {
	Depth(ctx context.Context) (int, error)
	ProcessingRate(ctx context.Context) (float64, error) // completions/sec
	HeadWorkerType(ctx context.Context) (ledger.WorkerType, error)
}

// MetricsRecorder is the optional Prometheus seam worker-count gauges
// publish through.
type MetricsRecorder interface {
	SetWorkerCount(workerType, status string, count int)
}

// Config configures pool lifecycle thresholds.
type Config struct {
	MinWorkers          int
	MaxWorkers          int
	ScaleUpThreshold    int
	ScaleDownThreshold  int
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	ScalingInterval     time.Duration
}

// DefaultConfig matches the pool's stated operating defaults.
func DefaultConfig() Config {
	return Config{
		MinWorkers: 1, MaxWorkers: 10,
		ScaleUpThreshold: 5, ScaleDownThreshold: 0,
		IdleTimeout: 300 * time.Second, HealthCheckInterval: 30 * time.Second,
		ScalingInterval: 10 * time.Second,
	}
}

// Pool is the Worker Pool Manager (C6).
type Pool struct {
	cfg      Config
	ledger   *ledger.Ledger
	store    state.Store
	launcher ProcessLauncher
	queue    QueueInspector
	metrics  MetricsRecorder
	log      *logging.Logger

	mu      sync.Mutex
	workers map[string]*Worker

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Pool. metrics may be nil, degrading worker-count gauge
// reporting to a no-op.
func New(cfg Config, l *ledger.Ledger, store state.Store, launcher ProcessLauncher, queue QueueInspector, metrics MetricsRecorder) *Pool {
	return &Pool{
		cfg: cfg, ledger: l, store: store, launcher: launcher, queue: queue, metrics: metrics,
		workers: make(map[string]*Worker),
		log:     logging.NewFromEnv("workerpool"),
		stopCh:  make(chan struct{}),
	}
}

// reportWorkerCounts pushes a fresh worker-count-by-(type,status) snapshot
// to the metrics seam, if one is wired.
func (p *Pool) reportWorkerCounts() {
	if p.metrics == nil {
		return
	}
	p.mu.Lock()
	counts := make(map[[2]string]int)
	for _, w := range p.workers {
		counts[[2]string{string(w.Type), string(w.Status)}]++
	}
	p.mu.Unlock()
	for k, v := range counts {
		p.metrics.SetWorkerCount(k[0], k[1], v)
	}
}

// Start spawns min_workers general workers and launches the scaling and
// health background loops.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.MinWorkers; i++ {
		if _, err := p.Spawn(ctx, ledger.WorkerGeneral); err != nil {
			p.log.WithError(err).Warn("failed to spawn initial worker")
		}
	}

	p.wg.Add(2)
	go p.scalingLoop(ctx)
	go p.healthLoop(ctx)
	return nil
}

// Stop terminates the background loops and gracefully stops every worker.
func (p *Pool) Stop(ctx context.Context) {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		_ = p.Terminate(ctx, id, true)
	}
}

// Spawn admits and launches a new worker of the given type, or returns an
// error if the pool is full or the ledger cannot admit the allocation.
func (p *Pool) Spawn(ctx context.Context, workerType ledger.WorkerType) (*Worker, error) {
	p.mu.Lock()
	if len(p.workers) >= p.cfg.MaxWorkers {
		p.mu.Unlock()
		return nil, apierrors.New(apierrors.CodeInsufficientRes, "worker pool at max_workers capacity")
	}
	p.mu.Unlock()

	req := ledger.RequirementTable()[workerType]
	if err := p.ledger.Allocate(string(workerType), req); err != nil {
		return nil, err
	}

	w := &Worker{
		ID:        fmt.Sprintf("worker_%s_%s", workerType, uuid.NewString()[:8]),
		Type:      workerType,
		Status:    StatusStarting,
		Resources: req,
		Queues:    queuesForType(workerType),
		StartedAt: time.Now(),
	}

	p.mu.Lock()
	p.workers[w.ID] = w
	p.mu.Unlock()

	if p.launcher != nil {
		if err := p.launcher.Start(ctx, w); err != nil {
			p.mu.Lock()
			delete(p.workers, w.ID)
			p.mu.Unlock()
			p.ledger.Release(req)
			return nil, apierrors.Wrap(apierrors.CodeTaskError, "failed to start worker process", err)
		}
	}

	w.Status = StatusActive
	w.LastHeartbeat = time.Now()
	if err := p.registerDirectory(ctx, w); err != nil {
		p.log.WithError(err).Warn("failed to register worker directory entry")
	}

	p.log.WithFields(map[string]interface{}{"worker_id": w.ID, "type": string(workerType)}).Info("worker spawned")
	p.reportWorkerCounts()
	return w, nil
}

// Terminate stops a worker, optionally waiting for its current task.
func (p *Pool) Terminate(ctx context.Context, workerID string, graceful bool) error {
	p.mu.Lock()
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return apierrors.NotFound("worker", workerID)
	}
	w.Status = StatusStopping
	p.mu.Unlock()

	if graceful && w.CurrentTaskID != "" {
		p.waitForTaskCompletion(ctx, w, 60*time.Second)
	}

	if p.launcher != nil {
		if err := p.launcher.Stop(ctx, w); err != nil {
			p.log.WithError(err).WithFields(map[string]interface{}{"worker_id": workerID}).Warn("error stopping worker process")
		}
	}

	_ = p.store.Delete(ctx, directoryKey(workerID))
	p.ledger.Release(w.Resources)

	p.mu.Lock()
	delete(p.workers, workerID)
	p.mu.Unlock()

	p.log.WithFields(map[string]interface{}{"worker_id": workerID}).Info("worker terminated")
	p.reportWorkerCounts()
	return nil
}

func (p *Pool) waitForTaskCompletion(ctx context.Context, w *Worker, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		done := w.CurrentTaskID == ""
		p.mu.Unlock()
		if done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Heartbeat refreshes a worker's last_heartbeat and directory TTL.
func (p *Pool) Heartbeat(ctx context.Context, workerID string) error {
	p.mu.Lock()
	w, ok := p.workers[workerID]
	if ok {
		w.LastHeartbeat = time.Now()
	}
	p.mu.Unlock()
	if !ok {
		return apierrors.NotFound("worker", workerID)
	}
	return p.registerDirectory(ctx, w)
}

// AssignTask marks a worker busy with a task.
func (p *Pool) AssignTask(workerID, taskID string) {
	p.mu.Lock()
	if w, ok := p.workers[workerID]; ok {
		w.Status = StatusBusy
		w.CurrentTaskID = taskID
		w.IdleSince = nil
	}
	p.mu.Unlock()
	p.reportWorkerCounts()
}

// CompleteTask marks a worker idle, bumping its completion/failure counter.
func (p *Pool) CompleteTask(workerID string, failed bool) {
	p.mu.Lock()
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if failed {
		w.TasksFailed++
	} else {
		w.TasksCompleted++
	}
	w.CurrentTaskID = ""
	w.Status = StatusIdle
	now := time.Now()
	w.IdleSince = &now
	p.mu.Unlock()
	p.reportWorkerCounts()
}

// Snapshot returns a point-in-time copy of every tracked worker.
func (p *Pool) Snapshot() []Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, *w)
	}
	return out
}

func (p *Pool) byStatus(status Status) []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Worker
	for _, w := range p.workers {
		if w.Status == status {
			out = append(out, w)
		}
	}
	return out
}

func (p *Pool) registerDirectory(ctx context.Context, w *Worker) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, directoryKey(w.ID), raw, directoryTTL)
}

func directoryKey(workerID string) string { return "worker:" + workerID }
