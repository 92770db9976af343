package orchestrator

import (
	"context"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/analytics"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/registry"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/resilience"
)

// ListTemplates passes through to the Template Registry's listing (spec
// §6 "registry admin").
func (o *Orchestrator) ListTemplates(filter registry.ListFilter) []registry.TemplateInfo {
	return o.registry.List(filter)
}

// GetTemplate returns one template definition by id+version.
func (o *Orchestrator) GetTemplate(id, version string) (*registry.Template, error) {
	return o.registry.Get(id, version)
}

// ReloadTemplate forces a template reload, bypassing the validation cache.
func (o *Orchestrator) ReloadTemplate(id, version string) error {
	return o.registry.Reload(id, version)
}

// GetErrorAnalysis reports recent windowed error-pattern analysis.
func (o *Orchestrator) GetErrorAnalysis(ctx context.Context, windowMinutes int) analytics.Report {
	return o.analytics.AnalyzeErrorPatterns(ctx, windowMinutes)
}

// GetCircuitBreakers reports every tracked breaker's counters.
func (o *Orchestrator) GetCircuitBreakers() map[string]resilience.Counts {
	return o.breakers.All()
}

// ResetCircuitBreaker force-closes a named breaker.
func (o *Orchestrator) ResetCircuitBreaker(service string) bool {
	return o.breakers.Reset(service)
}

// TriggerDiagnose runs one self-healing diagnostic pass on demand.
func (o *Orchestrator) TriggerDiagnose(ctx context.Context) []interface{} {
	if o.healer == nil {
		return nil
	}
	results := o.healer.DiagnoseAndHeal(ctx)
	out := make([]interface{}, len(results))
	for i, r := range results {
		out[i] = r
	}
	return out
}

// GetAlertThresholds reports the analytics component's current alert
// thresholds.
func (o *Orchestrator) GetAlertThresholds() analytics.Thresholds {
	return o.analytics.Thresholds()
}

// UpdateAlertThresholds replaces the analytics component's alert
// thresholds.
func (o *Orchestrator) UpdateAlertThresholds(t analytics.Thresholds) {
	o.analytics.SetThresholds(t)
}

// GetTaskErrorHistory reports a task's full recorded classification
// history, most-recent-last.
func (o *Orchestrator) GetTaskErrorHistory(taskID string) []classifier.Classification {
	return o.recoveryMgr.History(taskID)
}

// DeadLetterEntries reports every permanently-failed task parked for
// manual review.
func (o *Orchestrator) DeadLetterEntries() []DeadLetterEntry {
	return o.dlq.Entries()
}
