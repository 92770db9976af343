package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/ledger"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/ports"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/progress"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/registry"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/resilience"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/state"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/telemetry"
)

type fakeWorker struct {
	mu       sync.Mutex
	calls    int
	failN    int // first failN calls return an error
	failWith error
	result   ports.ExecutionResult
}

func (f *fakeWorker) Execute(ctx context.Context, templateID, version string, inputs, metadata map[string]interface{}, onProgress ports.ProgressCallback) (ports.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if onProgress != nil {
		onProgress(ports.ProgressEvent{Kind: ports.ProgressExecution, Progress: 0.5})
	}
	if n <= f.failN {
		return ports.ExecutionResult{}, f.failWith
	}
	return f.result, nil
}

type fakeWorkspace struct{ resolved map[string]string }

func (f *fakeWorkspace) GetProject(ctx context.Context, id string) (ports.Project, error) {
	return ports.Project{ID: id}, nil
}

func (f *fakeWorkspace) ResolveAsset(ctx context.Context, projectID, assetID string) (string, error) {
	if p, ok := f.resolved[assetID]; ok {
		return p, nil
	}
	return "/workspace/" + projectID + "/" + assetID, nil
}

type fakeTakes struct {
	mu      sync.Mutex
	created []ports.Take
}

func (f *fakeTakes) CreateTake(ctx context.Context, projectID, shotID string, outputs, metadata map[string]interface{}) (ports.Take, error) {
	take := ports.Take{ProjectID: projectID, ShotID: shotID, Outputs: outputs}
	f.mu.Lock()
	f.created = append(f.created, take)
	f.mu.Unlock()
	return take, nil
}

type fakeAlerts struct{ mu sync.Mutex; count int }

func (f *fakeAlerts) SendAlert(ctx context.Context, level, message string, details map[string]interface{}) error {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
	return nil
}

func testTemplate(id string) *registry.Template {
	min := 0.0
	max := 10.0
	return &registry.Template{
		ID: id, Version: "1.0.0", Category: "image",
		Interface: registry.Interface{
			Inputs: []registry.Param{
				{Name: "prompt", Type: registry.TypeString, Required: true},
				{Name: "steps", Type: registry.TypeInteger, Required: false, Constraints: registry.Constraint{Min: &min, Max: &max}},
			},
		},
		Requirements: registry.Requirements{CPUCores: 1, MemoryGB: 1},
	}
}

type harness struct {
	orch     *Orchestrator
	worker   *fakeWorker
	takes    *fakeTakes
	workspace *fakeWorkspace
	alerts   *fakeAlerts
}

func newHarness(t *testing.T, worker *fakeWorker) *harness {
	t.Helper()

	reg, err := registry.New(64, time.Minute)
	require.NoError(t, err)
	require.NoError(t, reg.Register(testTemplate("txt2img")))

	led := ledger.New(ledger.Resources{CPUCores: 64, MemoryGB: 256, VRAMGB: 64, GPUCount: 4})

	store := state.NewMemoryStore(time.Minute)
	history := progress.NewMemoryHistoryStore(100)
	eta, err := progress.NewETAPredictor(history, 64, time.Hour)
	require.NoError(t, err)
	tracker := progress.New(store, eta, nil)

	breakers := resilience.NewSet(nil)

	takes := &fakeTakes{}
	workspace := &fakeWorkspace{resolved: map[string]string{}}
	alerts := &fakeAlerts{}

	collab := Collaborators{Worker: worker, Takes: takes, Workspace: workspace, Alerts: alerts}
	orch := New(reg, registry.NewPresetResolver(nil), led, nil, nil, breakers, tracker, collab, DefaultConfig(), nil)

	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		orch.Stop(ctx)
	})

	return &harness{orch: orch, worker: worker, takes: takes, workspace: workspace, alerts: alerts}
}

func waitForStatus(t *testing.T, orch *Orchestrator, taskID string, want progress.TaskStatus, timeout time.Duration) *progress.TaskProgress {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tp, err := orch.Status(context.Background(), taskID)
		require.NoError(t, err)
		if tp != nil && tp.Status == want {
			return tp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", taskID, want)
	return nil
}

func TestSubmitRejectsMissingRequiredInput(t *testing.T) {
	h := newHarness(t, &fakeWorker{})
	_, err := h.orch.Submit(context.Background(), SubmitRequest{TemplateID: "txt2img", Inputs: map[string]interface{}{}})
	assert.Error(t, err)
}

func TestSubmitRejectsOutOfRangeConstraint(t *testing.T) {
	h := newHarness(t, &fakeWorker{})
	_, err := h.orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img",
		Inputs:     map[string]interface{}{"prompt": "a cat", "steps": 999},
	})
	assert.Error(t, err)
}

func TestSubmitRunsToCompletionAndCreatesTake(t *testing.T) {
	worker := &fakeWorker{result: ports.ExecutionResult{Outputs: map[string]interface{}{"image": "out.png"}}}
	h := newHarness(t, worker)

	result, err := h.orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img", ProjectID: "proj1", ShotID: "shot1",
		Inputs: map[string]interface{}{"prompt": "a cat"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.TaskID)
	assert.Equal(t, result.TaskID, result.TrackingID)

	waitForStatus(t, h.orch, result.TaskID, progress.TaskCompleted, 2*time.Second)

	h.takes.mu.Lock()
	defer h.takes.mu.Unlock()
	require.Len(t, h.takes.created, 1)
	assert.Equal(t, "proj1", h.takes.created[0].ProjectID)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestSubmitRunsToCompletionRecordsMetrics(t *testing.T) {
	reg, err := registry.New(64, time.Minute)
	require.NoError(t, err)
	require.NoError(t, reg.Register(testTemplate("txt2img")))

	led := ledger.New(ledger.Resources{CPUCores: 64, MemoryGB: 256, VRAMGB: 64, GPUCount: 4})
	store := state.NewMemoryStore(time.Minute)
	history := progress.NewMemoryHistoryStore(100)
	eta, err := progress.NewETAPredictor(history, 64, time.Hour)
	require.NoError(t, err)
	tracker := progress.New(store, eta, nil)
	breakers := resilience.NewSet(nil)

	worker := &fakeWorker{result: ports.ExecutionResult{}}
	collab := Collaborators{Worker: worker, Takes: &fakeTakes{}, Alerts: &fakeAlerts{}}

	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewWithRegistry("orchestrator-test", promReg)

	orch := New(reg, registry.NewPresetResolver(nil), led, nil, nil, breakers, tracker, collab, DefaultConfig(), metrics)
	require.NoError(t, orch.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		orch.Stop(ctx)
	}()

	result, err := orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img", ProjectID: "proj1",
		Inputs: map[string]interface{}{"prompt": "a cat"},
	})
	require.NoError(t, err)

	waitForStatus(t, orch, result.TaskID, progress.TaskCompleted, 2*time.Second)

	submitted := metrics.TasksSubmitted.WithLabelValues("orchestrator-test", "txt2img")
	assert.Equal(t, float64(1), counterValue(t, submitted))
	completed := metrics.TasksCompleted.WithLabelValues("orchestrator-test", "txt2img")
	assert.Equal(t, float64(1), counterValue(t, completed))
}

func TestSubmitResolvesAssetReferences(t *testing.T) {
	worker := &fakeWorker{result: ports.ExecutionResult{}}
	h := newHarness(t, worker)
	h.workspace.resolved["thing"] = "/resolved/path.png"

	_, err := h.orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img", ProjectID: "proj1",
		Inputs: map[string]interface{}{"prompt": "asset://thing"},
	})
	require.NoError(t, err)
}

func TestCancelActiveTaskStopsDispatch(t *testing.T) {
	h := newHarness(t, &fakeWorker{})
	result, err := h.orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img", Inputs: map[string]interface{}{"prompt": "a cat"},
	})
	require.NoError(t, err)

	ok, err := h.orch.Cancel(context.Background(), result.TaskID)
	require.NoError(t, err)
	assert.True(t, ok)

	tp, err := h.orch.Status(context.Background(), result.TaskID)
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.Equal(t, progress.TaskCancelled, tp.Status)
}

func TestCancelUnknownTaskIsNotAnError(t *testing.T) {
	h := newHarness(t, &fakeWorker{})
	ok, err := h.orch.Cancel(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelAlreadyCompletedTaskIsIdempotent(t *testing.T) {
	worker := &fakeWorker{result: ports.ExecutionResult{}}
	h := newHarness(t, worker)
	result, err := h.orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img", Inputs: map[string]interface{}{"prompt": "a cat"},
	})
	require.NoError(t, err)
	waitForStatus(t, h.orch, result.TaskID, progress.TaskCompleted, 2*time.Second)

	ok, err := h.orch.Cancel(context.Background(), result.TaskID)
	require.NoError(t, err)
	assert.True(t, ok)

	tp, err := h.orch.Status(context.Background(), result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, progress.TaskCompleted, tp.Status)
}

func TestListActiveFiltersByProject(t *testing.T) {
	h := newHarness(t, &fakeWorker{})
	_, err := h.orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img", ProjectID: "p1", Inputs: map[string]interface{}{"prompt": "a"},
	})
	require.NoError(t, err)
	_, err = h.orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img", ProjectID: "p2", Inputs: map[string]interface{}{"prompt": "b"},
	})
	require.NoError(t, err)

	out := h.orch.ListActive(ListFilters{ProjectID: "p1"})
	require.Len(t, out, 1)
	assert.Equal(t, "p1", out[0].ProjectID)
}

func TestFailureEventuallyStopsRetryingAndLeavesActiveSet(t *testing.T) {
	worker := &fakeWorker{failN: 1000, failWith: errors.New("connection reset by peer")}
	h := newHarness(t, worker)

	result, err := h.orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img", Inputs: map[string]interface{}{"prompt": "a cat"},
	})
	require.NoError(t, err)

	deadline := time.Now().Add(20 * time.Second)
	var removed bool
	for time.Now().Before(deadline) {
		active := h.orch.ListActive(ListFilters{})
		found := false
		for _, s := range active {
			if s.TaskID == result.TaskID {
				found = true
			}
		}
		if !found {
			removed = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.True(t, removed, "task should eventually leave the active set once recovery stops retrying")
}

func TestAdminSurfacePassesThroughToComponents(t *testing.T) {
	h := newHarness(t, &fakeWorker{})

	templates := h.orch.ListTemplates(registry.ListFilter{})
	require.Len(t, templates, 1)
	assert.Equal(t, "txt2img", templates[0].ID)

	tmpl, err := h.orch.GetTemplate("txt2img", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "image", tmpl.Category)

	breakers := h.orch.GetCircuitBreakers()
	assert.NotEmpty(t, breakers)

	thresholds := h.orch.GetAlertThresholds()
	thresholds.ErrorRate = 0.9
	h.orch.UpdateAlertThresholds(thresholds)
	assert.Equal(t, 0.9, h.orch.GetAlertThresholds().ErrorRate)

	entries := h.orch.DeadLetterEntries()
	assert.NotNil(t, entries)
}

func TestSubscribeReceivesProgressUpdates(t *testing.T) {
	worker := &fakeWorker{result: ports.ExecutionResult{}}
	h := newHarness(t, worker)

	result, err := h.orch.Submit(context.Background(), SubmitRequest{
		TemplateID: "txt2img", Inputs: map[string]interface{}{"prompt": "a cat"},
	})
	require.NoError(t, err)

	ch, unsubscribe, err := h.orch.Subscribe(context.Background(), result.TaskID)
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case update := <-ch:
		assert.Equal(t, result.TaskID, update.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a progress update")
	}
}
