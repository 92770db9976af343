// Package classifier implements the Error Classifier (C4): mapping a raw
// error into (category, severity, strategy, recoverable) via an
// exception-type table followed by a regex pattern fallback.
package classifier

import (
	"regexp"
	"strconv"
	"strings"
)

// Category is the top-level error classification.
type Category string

const (
	CategoryTransient  Category = "transient"
	CategoryResource   Category = "resource"
	CategoryValidation Category = "validation"
	CategoryPermanent  Category = "permanent"
	CategoryUnknown    Category = "unknown"
)

// Severity is the classification's severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Strategy names the recovery strategy the Recovery Manager (C7) dispatches.
type Strategy string

const (
	StrategyRetryWithBackoff Strategy = "retry_with_backoff"
	StrategyQueueAndWait     Strategy = "queue_and_wait"
	StrategyFailFast         Strategy = "fail_fast"
	StrategyDeadLetter       Strategy = "dead_letter"
	StrategyRetryOnce        Strategy = "retry_once"
)

// Classification is the result of classifying one error.
type Classification struct {
	Category     Category
	Strategy     Strategy
	ErrorType    string
	Message      string
	Recoverable  bool
	Severity     Severity
	MaxRetries   int
	WaitTime     int // seconds, relevant to queue_and_wait
	NotifyUser   bool
	AlertAdmin   bool
}

type categoryConfig struct {
	patterns   []*regexp.Regexp
	strategy   Strategy
	severity   Severity
	maxRetries int
	waitTime   int
	notifyUser bool
	alertAdmin bool
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

var categoryOrder = []Category{CategoryTransient, CategoryResource, CategoryValidation, CategoryPermanent}

var categories = map[Category]categoryConfig{
	CategoryTransient: {
		patterns: compile(
			"connection reset", "timeout", "temporary failure",
			"resource temporarily unavailable", "connection refused",
			"network unreachable", "broken pipe", "connection aborted",
		),
		strategy:   StrategyRetryWithBackoff,
		severity:   SeverityLow,
		maxRetries: 3,
	},
	CategoryResource: {
		patterns: compile(
			"out of memory", "no space left", "gpu memory",
			"resource exhausted", "cannot allocate memory",
			"insufficient resources", "quota exceeded", "too many open files",
		),
		strategy: StrategyQueueAndWait,
		severity: SeverityHigh,
		waitTime: 300,
	},
	CategoryValidation: {
		patterns: compile(
			"invalid input", "schema validation", "type error",
			"constraint violation", "invalid parameter", "validation failed",
			"format error", "missing required",
		),
		strategy:   StrategyFailFast,
		severity:   SeverityMedium,
		notifyUser: true,
	},
	CategoryPermanent: {
		patterns: compile(
			"model not found", "permission denied", "invalid configuration",
			"unsupported operation", "authentication failed", "access denied",
			"not implemented", "feature disabled",
		),
		strategy:   StrategyDeadLetter,
		severity:   SeverityCritical,
		alertAdmin: true,
	},
}

// exceptionTypeMapping maps a caller-supplied exception-type tag to a category,
// matched against a caller-supplied errorType string (Go has no exception
// hierarchy to introspect, so callers pass their own type tag, typically a
// sentinel error's name or a worker-reported error class).
var exceptionTypeMapping = map[string]Category{
	"ConnectionError":    CategoryTransient,
	"TimeoutError":       CategoryTransient,
	"MemoryError":        CategoryResource,
	"ValueError":         CategoryValidation,
	"TypeError":          CategoryValidation,
	"PermissionError":    CategoryPermanent,
	"NotImplementedError": CategoryPermanent,
}

// retryableStatusCodes captures the HTTP-shaped worker error
// rule: these status codes classify as transient regardless of message text.
var retryableStatusCodes = map[int]bool{429: true, 502: true, 503: true, 504: true}

// Classify maps errorType/message (and an optional HTTP-like status code,
// 0 if not applicable) into a Classification.
func Classify(errorType, message string, statusCode int) Classification {
	if statusCode != 0 && retryableStatusCodes[statusCode] {
		return build(CategoryTransient, categories[CategoryTransient], errorType, message)
	}

	if cat, ok := exceptionTypeMapping[errorType]; ok {
		return build(cat, categories[cat], errorType, message)
	}

	lower := strings.ToLower(message)
	for _, cat := range categoryOrder {
		cfg := categories[cat]
		for _, re := range cfg.patterns {
			if re.MatchString(lower) {
				return build(cat, cfg, errorType, message)
			}
		}
	}

	return Classification{
		Category:    CategoryUnknown,
		Strategy:    StrategyRetryOnce,
		ErrorType:   errorType,
		Message:     message,
		Recoverable: false,
		Severity:    SeverityMedium,
		MaxRetries:  1,
	}
}

func build(cat Category, cfg categoryConfig, errorType, message string) Classification {
	return Classification{
		Category:    cat,
		Strategy:    cfg.strategy,
		ErrorType:   errorType,
		Message:     message,
		Recoverable: cat == CategoryTransient || cat == CategoryResource,
		Severity:    cfg.severity,
		MaxRetries:  cfg.maxRetries,
		WaitTime:    cfg.waitTime,
		NotifyUser:  cfg.notifyUser,
		AlertAdmin:  cfg.alertAdmin,
	}
}

// StatusCodeFromMessage attempts to recover a trailing/embedded HTTP status
// code from a worker error message (e.g. "upstream returned 503"), used
// when a caller has no structured status to pass to Classify directly.
func StatusCodeFromMessage(message string) int {
	fields := strings.Fields(message)
	for _, f := range fields {
		f = strings.Trim(f, ".,:;()")
		if n, err := strconv.Atoi(f); err == nil && n >= 400 && n < 600 {
			return n
		}
	}
	return 0
}
