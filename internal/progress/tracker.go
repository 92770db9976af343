package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/state"
)

const recordTTL = 24 * time.Hour
const progressTopic = "progress.events"

var previewStages = map[string]bool{
	"generation": true, "frame_generation": true, "synthesis": true, "execution": true,
}
var previewCheckpoints = []float64{0.25, 0.5, 0.75}

// PreviewGenerator produces a preview artifact reference for a task at a
// given stage/progress -- an external collaborator the tracker calls through
// but never implements itself.
type PreviewGenerator interface {
	Generate(ctx context.Context, taskID, stageName string, stageProgress float64, metadata map[string]interface{}) (string, error)
}

// Tracker is the Progress Tracker (C5).
type Tracker struct {
	store   state.Store
	eta     *ETAPredictor
	preview PreviewGenerator
	stages  *stageRegistry
	log     *logging.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	previewMu   sync.Mutex
	previewDone map[string]bool // "taskID:roundedProgress"
}

// New builds a Tracker. preview may be nil to disable preview generation.
func New(store state.Store, eta *ETAPredictor, preview PreviewGenerator) *Tracker {
	return &Tracker{
		store:       store,
		eta:         eta,
		preview:     preview,
		stages:      newStageRegistry(),
		log:         logging.NewFromEnv("progress"),
		locks:       make(map[string]*sync.Mutex),
		previewDone: make(map[string]bool),
	}
}

// RegisterTemplateStages overrides the stage set for a specific template id.
func (t *Tracker) RegisterTemplateStages(templateID string, stages []Stage) {
	t.stages.RegisterTemplateStages(templateID, stages)
}

func (t *Tracker) lockFor(taskID string) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	l, ok := t.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[taskID] = l
	}
	return l
}

// Create initializes progress tracking for a new task.
func (t *Tracker) Create(ctx context.Context, taskID, templateID, category string, metadata map[string]interface{}) (*TaskProgress, error) {
	stages := t.stages.StagesFor(templateID, category)
	now := time.Now()

	tp := &TaskProgress{
		TaskID:      taskID,
		TemplateID:  templateID,
		Status:      TaskQueued,
		CurrentStage: 0,
		TotalStages: len(stages),
		Stages:      newStageProgress(stages),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if metadata != nil {
		tp.Logs = append(tp.Logs, LogEntry{Timestamp: now, Level: "info", Message: "task created", Metadata: metadata})
	}

	if err := t.save(ctx, tp); err != nil {
		return nil, err
	}
	t.publish(ctx, tp)
	return tp, nil
}

// Get returns the current progress record for taskID, or nil if absent.
func (t *Tracker) Get(ctx context.Context, taskID string) (*TaskProgress, error) {
	raw, err := t.store.Get(ctx, key(taskID))
	if err != nil {
		if err == state.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var tp TaskProgress
	if err := json.Unmarshal(raw, &tp); err != nil {
		return nil, fmt.Errorf("progress: decode %s: %w", taskID, err)
	}
	return &tp, nil
}

// UpdateStage records one stage transition and recomputes overall status.
func (t *Tracker) UpdateStage(ctx context.Context, taskID string, stage int, status StageStatus, progressVal float64, message string, metadata map[string]interface{}) error {
	lock := t.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	tp, err := t.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if tp == nil {
		return apierrors.NotFound("task", taskID)
	}
	if stage < 0 || stage >= len(tp.Stages) {
		return apierrors.New(apierrors.CodeValidation, "invalid stage index").WithDetail("task_id", taskID).WithDetail("stage", stage)
	}

	sp := &tp.Stages[stage]
	sp.Status = status
	if progressVal < 0 {
		progressVal = 0
	} else if progressVal > 1 {
		progressVal = 1
	}
	sp.Progress = progressVal
	if message != "" {
		sp.Message = message
	}
	if metadata != nil {
		if sp.Metadata == nil {
			sp.Metadata = map[string]interface{}{}
		}
		for k, v := range metadata {
			sp.Metadata[k] = v
		}
	}

	now := time.Now()
	switch status {
	case StageInProgress:
		if sp.StartedAt == nil {
			sp.StartedAt = &now
			if tp.StartedAt == nil {
				tp.StartedAt = &now
				tp.Status = TaskPreparing
			}
		}
	case StageCompleted, StageFailed:
		if sp.CompletedAt == nil {
			sp.CompletedAt = &now
		}
	}

	tp.CurrentStage = stage
	tp.Status = deriveStatus(tp)
	tp.OverallProgress = overallProgress(tp)
	tp.UpdatedAt = now

	logLevel := "info"
	if status == StageFailed {
		logLevel = "error"
	}
	tp.Logs = append(tp.Logs, LogEntry{
		Timestamp: now, Level: logLevel, Stage: stage,
		Message:  fmt.Sprintf("stage %q %s", sp.Name, status),
		Metadata: map[string]interface{}{"progress": progressVal},
	})
	if len(tp.Logs) > maxLogEntries {
		tp.Logs = tp.Logs[len(tp.Logs)-maxLogEntries:]
	}

	if status == StageInProgress {
		quality := "standard"
		if metadata != nil {
			if q, ok := metadata["quality"].(string); ok {
				quality = q
			}
		}
		pred := t.eta.Predict(tp.TemplateID, quality, stage, progressVal, tp.TotalStages)
		tp.ETA = &pred.ETA
		tp.ETAConfidence = pred.Confidence
	}

	if t.preview != nil && previewStages[sp.Name] {
		if url, ok := t.maybeGeneratePreview(ctx, taskID, sp.Name, progressVal, metadata); ok {
			tp.PreviewURL = url
		}
	}

	if tp.Status == TaskCompleted {
		tp.CompletedAt = &now
	} else if tp.Status == TaskFailed {
		tp.CompletedAt = &now
		if sp.Message != "" {
			tp.Error = sp.Message
		}
	}

	if err := t.save(ctx, tp); err != nil {
		return err
	}
	t.publish(ctx, tp)
	return nil
}

func (t *Tracker) maybeGeneratePreview(ctx context.Context, taskID, stageName string, progressVal float64, metadata map[string]interface{}) (string, bool) {
	rounded := -1.0
	for _, cp := range previewCheckpoints {
		if diff := progressVal - cp; diff >= -0.02 && diff <= 0.02 {
			rounded = cp
			break
		}
	}
	if rounded < 0 {
		return "", false
	}

	dedupeKey := fmt.Sprintf("%s:%.2f", taskID, rounded)
	t.previewMu.Lock()
	if t.previewDone[dedupeKey] {
		t.previewMu.Unlock()
		return "", false
	}
	t.previewDone[dedupeKey] = true
	t.previewMu.Unlock()

	url, err := t.preview.Generate(ctx, taskID, stageName, progressVal, metadata)
	if err != nil || url == "" {
		return "", false
	}
	return url, true
}

// terminalStatuses are the statuses Cancel treats as already-final.
var terminalStatuses = map[TaskStatus]bool{
	TaskCompleted: true, TaskFailed: true, TaskCancelled: true,
}

// Cancel transitions taskId's progress to cancelled. A task already in a
// terminal state is left untouched and Cancel returns success: cancelling an
// already-finished task is a no-op, not an error.
func (t *Tracker) Cancel(ctx context.Context, taskID string) error {
	lock := t.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	tp, err := t.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if tp == nil {
		return apierrors.NotFound("task", taskID)
	}
	if terminalStatuses[tp.Status] {
		return nil
	}

	now := time.Now()
	tp.Status = TaskCancelled
	tp.CompletedAt = &now
	tp.UpdatedAt = now
	tp.Logs = append(tp.Logs, LogEntry{Timestamp: now, Level: "info", Message: "task cancelled"})
	if len(tp.Logs) > maxLogEntries {
		tp.Logs = tp.Logs[len(tp.Logs)-maxLogEntries:]
	}

	if err := t.save(ctx, tp); err != nil {
		return err
	}
	t.publish(ctx, tp)
	return nil
}

// AddLog appends a log entry with FIFO eviction at 1000.
func (t *Tracker) AddLog(ctx context.Context, taskID, level, message string, metadata map[string]interface{}) error {
	tp, err := t.Get(ctx, taskID)
	if err != nil || tp == nil {
		return err
	}
	tp.Logs = append(tp.Logs, LogEntry{Timestamp: time.Now(), Level: level, Message: message, Metadata: metadata})
	if len(tp.Logs) > maxLogEntries {
		tp.Logs = tp.Logs[len(tp.Logs)-maxLogEntries:]
	}
	return t.save(ctx, tp)
}

// UpdateResourceUsage records a point-in-time resource snapshot.
func (t *Tracker) UpdateResourceUsage(ctx context.Context, taskID string, usage map[string]float64) error {
	tp, err := t.Get(ctx, taskID)
	if err != nil || tp == nil {
		return err
	}
	tp.ResourceUsage = usage
	tp.UpdatedAt = time.Now()
	return t.save(ctx, tp)
}

// Subscribe returns a channel of ProgressUpdate for taskID.
func (t *Tracker) Subscribe(ctx context.Context, taskID string) (<-chan ProgressUpdate, func(), error) {
	raw, unsubscribe, err := t.store.Subscribe(ctx, progressTopic+"."+taskID)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan ProgressUpdate, 16)
	go func() {
		defer close(out)
		for msg := range raw {
			var u ProgressUpdate
			if json.Unmarshal(msg, &u) == nil {
				out <- u
			}
		}
	}()
	return out, unsubscribe, nil
}

func (t *Tracker) save(ctx context.Context, tp *TaskProgress) error {
	raw, err := json.Marshal(tp)
	if err != nil {
		return fmt.Errorf("progress: encode %s: %w", tp.TaskID, err)
	}
	return t.store.Set(ctx, key(tp.TaskID), raw, recordTTL)
}

func (t *Tracker) publish(ctx context.Context, tp *TaskProgress) {
	update := ProgressUpdate{
		TaskID: tp.TaskID, Status: tp.Status, CurrentStage: tp.CurrentStage,
		OverallProgress: tp.OverallProgress, ETA: tp.ETA, PreviewURL: tp.PreviewURL,
		Timestamp: time.Now(),
	}
	raw, err := json.Marshal(update)
	if err != nil {
		return
	}
	if err := t.store.Publish(ctx, progressTopic+"."+tp.TaskID, raw); err != nil {
		t.log.WithError(err).WithFields(map[string]interface{}{"task_id": tp.TaskID}).Warn("progress publish failed")
	}
}

func key(taskID string) string { return "progress:" + taskID }

func deriveStatus(tp *TaskProgress) TaskStatus {
	anyFailed := false
	allDone := true
	for _, s := range tp.Stages {
		if s.Status == StageFailed {
			anyFailed = true
		}
		if s.Status != StageCompleted && s.Status != StageSkipped {
			allDone = false
		}
	}
	if anyFailed {
		return TaskFailed
	}
	if allDone {
		return TaskCompleted
	}
	if tp.CurrentStage >= 0 && tp.CurrentStage < len(tp.Stages) {
		return stageNameFor(tp.Stages[tp.CurrentStage].Name)
	}
	return tp.Status
}

func overallProgress(tp *TaskProgress) float64 {
	var sum, weightSum float64
	for _, s := range tp.Stages {
		weightSum += s.Weight
		switch s.Status {
		case StageCompleted, StageSkipped:
			sum += s.Weight * 1.0
		case StageFailed:
			// contributes 0: a failed stage is not partial progress.
		default:
			sum += s.Weight * s.Progress
		}
	}
	if weightSum <= 0 {
		return 0
	}
	return (sum / weightSum) * 100
}
