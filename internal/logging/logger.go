// Package logging provides structured logging with trace ID propagation
// for every orchestrator component.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys used to carry logging metadata.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	TaskIDKey  ContextKey = "task_id"
	WorkerKey  ContextKey = "worker_id"
)

// Logger wraps logrus.Logger with orchestrator-specific helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the named component.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger using LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns an entry carrying trace/task/worker ids found on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(TaskIDKey); v != nil {
		entry = entry.WithField("task_id", v)
	}
	if v := ctx.Value(WorkerKey); v != nil {
		entry = entry.WithField("worker_id", v)
	}
	return entry
}

// WithFields returns an entry merging the component name and given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError returns an entry carrying the component name and error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err.Error(),
	})
}

// NewTraceID generates a new request/task trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace id from ctx, if any.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTaskID attaches a task id to ctx.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// GetTaskID retrieves the task id from ctx, if any.
func GetTaskID(ctx context.Context) string {
	if v, ok := ctx.Value(TaskIDKey).(string); ok {
		return v
	}
	return ""
}

var defaultLogger *Logger

// InitDefault initializes the package-level default logger.
func InitDefault(component, level, format string) {
	defaultLogger = New(component, level, format)
}

// Default returns the package-level logger, creating a fallback if unset.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("orchestrator", "info", "json")
	}
	return defaultLogger
}
