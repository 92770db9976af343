package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
)

// AlertService pages an operator about a critical condition.
type AlertService interface {
	SendAlert(ctx context.Context, level, message string, details map[string]interface{}) error
}

// MetricsRecorder is the optional Prometheus seam classified errors and
// recovery attempts publish through.
type MetricsRecorder interface {
	RecordError(category, severity string)
	RecordRecoveryAttempt(category, outcome string)
}

// Analytics is the Error Analytics component (C10).
type Analytics struct {
	alert   AlertService
	metrics MetricsRecorder
	log     *logging.Logger

	mu                sync.Mutex
	categoryCounts    map[classifier.Category]int
	errorTypeCounts   map[string]int
	trends            []recordedError
	recoveryAttempts  map[classifier.Category]int
	recoverySuccesses map[classifier.Category]int
	lastErrors        map[string]time.Time

	thresholds            Thresholds
	baselineErrorRate      float64
	analysisWindowMinutes  int
}

// New builds an Analytics tracker. metrics may be nil, degrading
// Prometheus reporting to a no-op.
func New(alert AlertService, metrics MetricsRecorder) *Analytics {
	return &Analytics{
		alert:                 alert,
		metrics:               metrics,
		log:                   logging.NewFromEnv("analytics"),
		categoryCounts:        make(map[classifier.Category]int),
		errorTypeCounts:       make(map[string]int),
		recoveryAttempts:      make(map[classifier.Category]int),
		recoverySuccesses:     make(map[classifier.Category]int),
		lastErrors:            make(map[string]time.Time),
		thresholds:            DefaultThresholds(),
		baselineErrorRate:     baselineErrorRate,
		analysisWindowMinutes: defaultAnalysisWindowMinutes,
	}
}

// SetThresholds replaces the alert thresholds at runtime.
func (a *Analytics) SetThresholds(t Thresholds) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thresholds = t
}

// Thresholds returns the current alert thresholds.
func (a *Analytics) Thresholds() Thresholds {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thresholds
}

// RecordError records one error occurrence and runs the real-time
// critical-error check.
func (a *Analytics) RecordError(ctx context.Context, c classifier.Classification) {
	a.mu.Lock()
	a.categoryCounts[c.Category]++
	a.errorTypeCounts[c.ErrorType]++
	rec := recordedError{at: time.Now(), classification: c}
	a.trends = append(a.trends, rec)
	if len(a.trends) > windowSize {
		a.trends = a.trends[len(a.trends)-windowSize:]
	}
	a.lastErrors[c.ErrorType] = rec.at
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordError(string(c.Category), string(c.Severity))
	}

	a.checkImmediateAnomalies(ctx, c)
}

// RecordRecoveryAttempt records the outcome of one recovery attempt for a
// category.
func (a *Analytics) RecordRecoveryAttempt(category classifier.Category, success bool) {
	a.mu.Lock()
	a.recoveryAttempts[category]++
	if success {
		a.recoverySuccesses[category]++
	}
	a.mu.Unlock()

	if a.metrics != nil {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		a.metrics.RecordRecoveryAttempt(string(category), outcome)
	}
}

// checkImmediateAnomalies alerts as soon as the last 20 trend entries
// contain >= CriticalErrors critical severities.
func (a *Analytics) checkImmediateAnomalies(ctx context.Context, c classifier.Classification) {
	if c.Severity != classifier.SeverityCritical {
		return
	}

	a.mu.Lock()
	window := a.trends
	if len(window) > recentCriticalWindow {
		window = window[len(window)-recentCriticalWindow:]
	}
	count := 0
	for _, e := range window {
		if e.classification.Severity == classifier.SeverityCritical {
			count++
		}
	}
	threshold := a.thresholds.CriticalErrors
	a.mu.Unlock()

	if count >= threshold && a.alert != nil {
		_ = a.alert.SendAlert(ctx, "critical",
			fmt.Sprintf("critical error threshold exceeded: %d errors", count),
			map[string]interface{}{"error_type": c.ErrorType, "category": c.Category, "message": c.Message},
		)
	}
}

// AnalyzeErrorPatterns implements analyze_error_patterns: recent-window
// error rate, distribution, anomaly detection, and recommendations.
// windowMinutes <= 0 uses the configured default (5).
func (a *Analytics) AnalyzeErrorPatterns(ctx context.Context, windowMinutes int) Report {
	a.mu.Lock()
	if windowMinutes <= 0 {
		windowMinutes = a.analysisWindowMinutes
	}
	cutoff := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)

	var recent []recordedError
	for _, e := range a.trends {
		if e.at.After(cutoff) {
			recent = append(recent, e)
		}
	}

	totalErrors := len(recent)
	totalRequests := len(a.trends)
	if totalRequests < 1 {
		totalRequests = 1
	}
	errorRate := float64(totalErrors) / float64(totalRequests)

	errorFrequency := make(map[classifier.Category]int)
	severityCounts := make(map[classifier.Severity]int)
	for _, e := range recent {
		errorFrequency[e.classification.Category]++
		severityCounts[e.classification.Severity]++
	}
	thresholds := a.thresholds
	baseline := a.baselineErrorRate
	totalAttempts, totalSuccesses := 0, 0
	for cat, attempts := range a.recoveryAttempts {
		totalAttempts += attempts
		totalSuccesses += a.recoverySuccesses[cat]
	}
	a.mu.Unlock()

	anomalies := a.detectAnomalies(ctx, errorRate, errorFrequency, severityCounts, thresholds, baseline, totalAttempts, totalSuccesses)
	recommendations := generateRecommendations(anomalies, errorFrequency, errorRate)

	dist := make(map[classifier.Category]int, len(errorFrequency))
	for k, v := range errorFrequency {
		dist[k] = v
	}

	return Report{
		TotalErrors: totalErrors, ErrorRate: errorRate, ErrorDistribution: dist,
		Anomalies: anomalies, Recommendations: recommendations, AnalysisWindowMinutes: windowMinutes,
	}
}

func (a *Analytics) detectAnomalies(
	ctx context.Context,
	errorRate float64,
	errorFrequency map[classifier.Category]int,
	severityCounts map[classifier.Severity]int,
	thresholds Thresholds,
	baseline float64,
	totalAttempts, totalSuccesses int,
) []Anomaly {
	var anomalies []Anomaly

	if errorRate > thresholds.ErrorRate {
		anomalies = append(anomalies, Anomaly{Type: "high_error_rate", Severity: classifier.SeverityCritical, Value: errorRate, Threshold: thresholds.ErrorRate})
	}

	for cat, count := range errorFrequency {
		if count > thresholds.SpecificErrorCount {
			anomalies = append(anomalies, Anomaly{Type: "frequent_error", Severity: classifier.SeverityHigh, ErrorType: string(cat), Count: count})
		}
	}

	spikeThreshold := baseline * thresholds.ErrorSpike
	if errorRate > spikeThreshold {
		anomalies = append(anomalies, Anomaly{Type: "error_spike", Severity: classifier.SeverityHigh, Value: errorRate / baseline, Threshold: thresholds.ErrorSpike})
	}

	criticalCount := severityCounts[classifier.SeverityCritical]
	if criticalCount >= thresholds.CriticalErrors {
		anomalies = append(anomalies, Anomaly{Type: "critical_error_threshold", Severity: classifier.SeverityCritical, Count: criticalCount, Threshold: float64(thresholds.CriticalErrors)})
	}

	recoveryFailureRate := 0.0
	if totalAttempts > 0 {
		recoveryFailureRate = 1 - float64(totalSuccesses)/float64(totalAttempts)
	}
	if recoveryFailureRate > thresholds.RecoveryFailureRate {
		anomalies = append(anomalies, Anomaly{Type: "high_recovery_failure", Severity: classifier.SeverityHigh, Value: recoveryFailureRate, Threshold: thresholds.RecoveryFailureRate})
	}

	if len(anomalies) > 0 && a.alert != nil {
		a.sendAnomalyAlerts(ctx, anomalies)
	}

	return anomalies
}

func (a *Analytics) sendAnomalyAlerts(ctx context.Context, anomalies []Anomaly) {
	var critical []Anomaly
	for _, an := range anomalies {
		if an.Severity == classifier.SeverityCritical {
			critical = append(critical, an)
		}
	}
	if len(critical) == 0 {
		return
	}
	_ = a.alert.SendAlert(ctx, "critical",
		fmt.Sprintf("critical anomalies detected: %d", len(critical)),
		map[string]interface{}{"anomalies": critical},
	)
}

func generateRecommendations(anomalies []Anomaly, errorFrequency map[classifier.Category]int, errorRate float64) []string {
	var out []string
	for _, an := range anomalies {
		switch {
		case an.Type == "high_error_rate":
			out = append(out, fmt.Sprintf("Consider scaling up workers or investigating system load. Current error rate: %.2f%%", an.Value*100))
		case an.Type == "frequent_error" && an.ErrorType == string(classifier.CategoryResource):
			out = append(out, "Resource errors detected - check GPU/memory availability. Consider implementing resource pooling or queuing.")
		case an.Type == "frequent_error" && an.ErrorType == string(classifier.CategoryTransient):
			out = append(out, "High number of transient errors - check network stability and external service health.")
		case an.Type == "error_spike":
			out = append(out, fmt.Sprintf("Error spike detected (%.1fx normal). Investigate recent changes or external factors.", an.Value))
		case an.Type == "critical_error_threshold":
			out = append(out, fmt.Sprintf("Multiple critical errors detected (%d). Immediate investigation required.", an.Count))
		case an.Type == "high_recovery_failure":
			out = append(out, fmt.Sprintf("Recovery mechanisms failing (%.2f%% failure rate). Review recovery strategies and thresholds.", an.Value*100))
		}
	}

	if errorFrequency[classifier.CategoryValidation] > 5 {
		out = append(out, "Multiple validation errors - review input validation and provide better user feedback.")
	}

	hasHighErrorRate := false
	for _, an := range anomalies {
		if an.Type == "high_error_rate" {
			hasHighErrorRate = true
		}
	}
	if errorRate > 0.05 && !hasHighErrorRate {
		out = append(out, "Elevated error rate detected. Monitor closely for trends.")
	}

	return out
}

// Stats mirrors get_error_stats.
func (a *Analytics) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	totalErrors := 0
	for _, c := range a.categoryCounts {
		totalErrors += c
	}

	categoryDist := make(map[classifier.Category]CategoryStat, len(a.categoryCounts))
	for cat, count := range a.categoryCounts {
		pct := 0.0
		if totalErrors > 0 {
			pct = float64(count) / float64(totalErrors)
		}
		categoryDist[cat] = CategoryStat{Count: count, Percentage: pct}
	}

	recoveryStats := make(map[classifier.Category]RecoveryStat, len(a.recoveryAttempts))
	for cat, attempts := range a.recoveryAttempts {
		successes := a.recoverySuccesses[cat]
		rate := 0.0
		if attempts > 0 {
			rate = float64(successes) / float64(attempts)
		}
		recoveryStats[cat] = RecoveryStat{Attempts: attempts, Successes: successes, SuccessRate: rate}
	}

	return Stats{
		TotalErrors:           totalErrors,
		CategoryDistribution:  categoryDist,
		RecoveryStats:         recoveryStats,
		RecentErrorRate:       a.recentErrorRateLocked(5),
		TopErrors:             a.topErrorsLocked(5),
	}
}

// recentErrorRateLocked assumes ~100 requests/minute as a baseline,
// a coarse placeholder until real request-rate telemetry is wired in.
func (a *Analytics) recentErrorRateLocked(minutes int) float64 {
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	count := 0
	for _, e := range a.trends {
		if e.at.After(cutoff) {
			count++
		}
	}
	expectedRequests := minutes * 100
	return float64(count) / float64(expectedRequests)
}

func (a *Analytics) topErrorsLocked(limit int) []TopError {
	out := make([]TopError, 0, len(a.errorTypeCounts))
	for t, c := range a.errorTypeCounts {
		out = append(out, TopError{ErrorType: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ErrorType < out[j].ErrorType
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
