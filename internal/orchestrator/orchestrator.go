package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/analytics"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/compensation"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/ledger"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/ports"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/progress"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/recovery"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/registry"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/resilience"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/selfheal"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/telemetry"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/workerpool"
)

const defaultTaskTimeout = 10 * time.Minute
const defaultQueueCapacity = 4096
const defaultMaxConcurrent = 16

// Collaborators wires the Orchestrator's outbound seams.
type Collaborators struct {
	Worker        ports.WorkerRPC
	Takes         ports.TakesService
	Workspace     ports.WorkspaceService
	Notifications ports.NotificationService
	Alerts        ports.AlertService
}

// Config tunes the submission pipeline's concurrency and timeouts.
type Config struct {
	TaskTimeout   time.Duration
	QueueCapacity int
	MaxConcurrent int
}

// DefaultConfig returns the orchestrator's stated defaults.
func DefaultConfig() Config {
	return Config{TaskTimeout: defaultTaskTimeout, QueueCapacity: defaultQueueCapacity, MaxConcurrent: defaultMaxConcurrent}
}

// Orchestrator is the Orchestrator/Dispatcher (C11): the single
// submission entry point coordinating every other component.
type Orchestrator struct {
	registry       *registry.Registry
	presetResolver registry.PresetResolver
	ledger         *ledger.Ledger
	pool           *workerpool.Pool
	queueInspector workerpool.QueueInspector
	breakers       *resilience.Set
	progress       *progress.Tracker
	recoveryMgr    *recovery.Manager
	compensationMgr *compensation.Manager
	analytics      *analytics.Analytics
	healer         *selfheal.Healer
	collab         Collaborators
	metrics        *telemetry.Metrics
	log            *logging.Logger

	cfg       Config
	taskTimeout time.Duration

	mu          sync.Mutex
	tasks       map[string]*Task
	allocations map[string]ledger.Resources

	dlq   *dlqStore
	waits *waitStore

	queue chan string
	sem   chan struct{}
	wg    sync.WaitGroup
}

// New wires an Orchestrator from its component dependencies. reg, led,
// breakers and tracker are required; pool, resolver, queueInspector and
// metrics may be nil (pool == nil disables worker-pool-backed self-healing
// adapters; queueInspector == nil disables queue-depth diagnostics;
// metrics == nil disables Prometheus reporting).
func New(reg *registry.Registry, resolver registry.PresetResolver, led *ledger.Ledger, pool *workerpool.Pool, queueInspector workerpool.QueueInspector, breakers *resilience.Set, tracker *progress.Tracker, collab Collaborators, cfg Config, metrics *telemetry.Metrics) *Orchestrator {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}

	o := &Orchestrator{
		registry: reg, presetResolver: resolver, ledger: led, pool: pool,
		queueInspector: queueInspector, breakers: breakers, progress: tracker,
		collab: collab, metrics: metrics, log: logging.NewFromEnv("orchestrator"),
		cfg: cfg, taskTimeout: cfg.TaskTimeout,
		tasks:       make(map[string]*Task),
		allocations: make(map[string]ledger.Resources),
		dlq:         &dlqStore{},
		waits:       &waitStore{},
		queue:       make(chan string, cfg.QueueCapacity),
		sem:         make(chan struct{}, cfg.MaxConcurrent),
	}

	o.analytics = analytics.New(collab.Alerts, metrics)
	o.recoveryMgr = recovery.New(recovery.Collaborators{
		TaskQueue:           resubmitter{o: o},
		ResourceQueue:       o.waits,
		DeadLetterQueue:     o.dlq,
		NotificationService: notificationAdapter{inner: collab.Notifications},
		AlertService:        collab.Alerts,
	})
	o.compensationMgr = compensation.New(compensation.Collaborators{
		Resources: o,
		Tasks:     o,
	})
	if pool != nil {
		diag := selfheal.NewDiagnostics(o, o, selfheal.DefaultThresholds(), ".")
		o.healer = selfheal.New(diag, selfheal.Collaborators{Workers: o, Scaler: o})
	}

	return o
}

// Start launches the dispatch loop, the resource-wait reaper, and (if
// configured) the worker pool and self-healing loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.pool != nil {
		if err := o.pool.Start(ctx); err != nil {
			return err
		}
	}
	o.wg.Add(1)
	go o.dispatchLoop(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.waitReaperLoop(ctx)
	}()
	return nil
}

// Stop drains the dispatch loop and the worker pool.
func (o *Orchestrator) Stop(ctx context.Context) {
	close(o.queue)
	o.wg.Wait()
	if o.pool != nil {
		o.pool.Stop(ctx)
	}
}

// Healer exposes the self-healing loop (C9) for admin "trigger diagnose".
func (o *Orchestrator) Healer() *selfheal.Healer { return o.healer }

// Submit validates, admits, and enqueues a new task.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	inputs, err := o.resolveAssetRefs(ctx, req.ProjectID, req.Inputs)
	if err != nil {
		return SubmitResult{}, err
	}

	tmpl, err := o.registry.Get(req.TemplateID, req.Version)
	if err != nil {
		return SubmitResult{}, err
	}

	if err := validateInputs(tmpl, inputs); err != nil {
		return SubmitResult{}, err
	}

	quality := req.Quality
	if quality != "" && o.presetResolver != nil {
		resolved, _, err := registry.ApplyQuality(tmpl, o.presetResolver, quality, inputs)
		if err != nil {
			return SubmitResult{}, err
		}
		inputs = resolved
	}

	required := resourcesFor(tmpl)
	if err := o.ledger.Allocate("task", required); err != nil {
		return SubmitResult{}, err
	}

	taskID := uuid.NewString()
	task := &Task{
		ID: taskID, TemplateID: tmpl.ID, Version: tmpl.Version, Category: tmpl.Category,
		Inputs: inputs, Quality: quality, ProjectID: req.ProjectID, ShotID: req.ShotID,
		UserID: req.UserID, Priority: req.Priority, Metadata: req.Metadata, CreatedAt: time.Now(),
	}

	o.mu.Lock()
	o.tasks[taskID] = task
	o.allocations[taskID] = required
	o.mu.Unlock()

	if _, err := o.progress.Create(ctx, taskID, tmpl.ID, tmpl.Category, req.Metadata); err != nil {
		o.releaseAllocation(taskID)
		o.removeTask(taskID)
		return SubmitResult{}, err
	}

	select {
	case o.queue <- taskID:
	default:
		// queue saturated: the task remains recorded and will be picked up
		// once a dispatch slot frees, so submission never blocks
		// indefinitely.
		go func() { o.queue <- taskID }()
	}

	if o.metrics != nil {
		o.metrics.RecordSubmitted(tmpl.ID)
		o.metrics.SetQueueDepth(len(o.queue))
	}

	eta := time.Now().Add(estimatedDuration(tmpl, quality))
	return SubmitResult{TaskID: taskID, TrackingID: taskID, Status: string(progress.TaskQueued), EstimatedCompletion: &eta}, nil
}

// Cancel marks a task's progress cancelled and stops it from being
// dispatched.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (bool, error) {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if ok {
		delete(o.tasks, taskID)
	}
	o.mu.Unlock()

	if err := o.progress.Cancel(ctx, taskID); err != nil {
		if apierrors.CodeOf(err) == apierrors.CodeResourceNotFound {
			return false, nil
		}
		return false, err
	}
	if ok && task.cancel != nil {
		task.cancel()
	}
	o.releaseAllocation(taskID)
	return true, nil
}

// Status reads a task's progress record.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*progress.TaskProgress, error) {
	return o.progress.Get(ctx, taskID)
}

// ListActive filters the in-flight task set by user/project.
func (o *Orchestrator) ListActive(filters ListFilters) []TaskSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]TaskSummary, 0, len(o.tasks))
	for id, t := range o.tasks {
		if filters.UserID != "" && t.UserID != filters.UserID {
			continue
		}
		if filters.ProjectID != "" && t.ProjectID != filters.ProjectID {
			continue
		}
		out = append(out, TaskSummary{TaskID: id, TemplateID: t.TemplateID, ProjectID: t.ProjectID, UserID: t.UserID, CreatedAt: t.CreatedAt})
	}
	return out
}

// Subscribe streams progress updates for a task.
func (o *Orchestrator) Subscribe(ctx context.Context, taskID string) (<-chan progress.ProgressUpdate, func(), error) {
	return o.progress.Subscribe(ctx, taskID)
}

func (o *Orchestrator) resolveAssetRefs(ctx context.Context, projectID string, inputs map[string]interface{}) (map[string]interface{}, error) {
	if o.collab.Workspace == nil || projectID == "" {
		return inputs, nil
	}
	resolved := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		if s, ok := v.(string); ok && len(s) > len("asset://") && s[:len("asset://")] == "asset://" {
			path, err := o.collab.Workspace.ResolveAsset(ctx, projectID, s[len("asset://"):])
			if err != nil {
				return nil, err
			}
			resolved[k] = path
			continue
		}
		resolved[k] = v
	}
	return resolved, nil
}

func resourcesFor(t *registry.Template) ledger.Resources {
	r := ledger.Resources{CPUCores: t.Requirements.CPUCores, MemoryGB: t.Requirements.MemoryGB}
	if t.Requirements.GPU {
		r.VRAMGB = t.Requirements.VRAMGB
		r.GPUCount = 1
	}
	return r
}

// estimatedDuration is a coarse ETA for the immediate submit() response;
// the Progress Tracker's own ETA predictor refines this once execution
// starts.
func estimatedDuration(t *registry.Template, quality string) time.Duration {
	base := 60 * time.Second
	switch quality {
	case "draft":
		return time.Duration(float64(base) * 0.4)
	case "high":
		return time.Duration(float64(base) * 1.8)
	case "ultra":
		return time.Duration(float64(base) * 3.0)
	default:
		return base
	}
}
