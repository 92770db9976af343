// Package analytics implements Error Analytics (C10): a rolling window of
// recorded classifications, real-time critical-error alerting, and a
// periodic pattern analysis producing anomalies and recommendations.
package analytics

import (
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/classifier"
)

// windowSize bounds the rolling classification history.
const windowSize = 1000

// recentCriticalWindow is the "last 20" trend slice anomaly detection scans.
const recentCriticalWindow = 20

// Thresholds is the runtime-mutable alert threshold configuration.
type Thresholds struct {
	ErrorRate           float64
	SpecificErrorCount  int
	RecoveryFailureRate float64
	ErrorSpike          float64
	CriticalErrors      int
}

// DefaultThresholds are the component's hardcoded default alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRate: 0.1, SpecificErrorCount: 10, RecoveryFailureRate: 0.2,
		ErrorSpike: 2.0, CriticalErrors: 3,
	}
}

const baselineErrorRate = 0.05
const defaultAnalysisWindowMinutes = 5

// recordedError pairs a classification with when it was recorded, since
// classifier.Classification itself carries no timestamp.
type recordedError struct {
	at             time.Time
	classification classifier.Classification
}

// Anomaly is one detected abnormal pattern.
type Anomaly struct {
	Type      string
	Severity  classifier.Severity
	Value     float64
	Threshold float64
	ErrorType string
	Count     int
}

// Report is the result of analyze_error_patterns.
type Report struct {
	TotalErrors           int
	ErrorRate             float64
	ErrorDistribution     map[classifier.Category]int
	Anomalies             []Anomaly
	Recommendations       []string
	AnalysisWindowMinutes int
}

// CategoryStat is one category's count/percentage-of-total.
type CategoryStat struct {
	Count      int
	Percentage float64
}

// RecoveryStat is one category's recovery attempt/success rollup.
type RecoveryStat struct {
	Attempts    int
	Successes   int
	SuccessRate float64
}

// TopError is one entry in the most-frequent-error-types list.
type TopError struct {
	ErrorType string
	Count     int
}

// Stats reports cumulative error counts, the category distribution,
// per-category recovery stats, the recent error rate and the top errors.
type Stats struct {
	TotalErrors        int
	CategoryDistribution map[classifier.Category]CategoryStat
	RecoveryStats      map[classifier.Category]RecoveryStat
	RecentErrorRate    float64
	TopErrors          []TopError
}
