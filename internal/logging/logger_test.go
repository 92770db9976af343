package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoOnBadLevel(t *testing.T) {
	l := New("registry", "not-a-level", "text")
	assert.Equal(t, "info", l.GetLevel().String())
}

func TestWithContextCarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	l := New("registry", "debug", "json")
	l.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithTaskID(ctx, "task-1")

	l.WithContext(ctx).Info("hello")

	out := buf.String()
	require.Contains(t, out, "trace-1")
	assert.Contains(t, out, "task-1")
	assert.Contains(t, out, "registry")
}

func TestGetTraceIDEmptyWhenAbsent(t *testing.T) {
	assert.Equal(t, "", GetTraceID(context.Background()))
	assert.Equal(t, "", GetTaskID(context.Background()))
}

func TestNewTraceIDUnique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	assert.NotEqual(t, a, b)
}

func TestDefaultLoggerFallback(t *testing.T) {
	defaultLogger = nil
	l := Default()
	assert.NotNil(t, l)
}
