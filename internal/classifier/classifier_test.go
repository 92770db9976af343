package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyByExceptionType(t *testing.T) {
	c := Classify("TimeoutError", "operation timed out", 0)
	assert.Equal(t, CategoryTransient, c.Category)
	assert.Equal(t, StrategyRetryWithBackoff, c.Strategy)
	assert.True(t, c.Recoverable)
	assert.Equal(t, 3, c.MaxRetries)
}

func TestClassifyByRegexFallback(t *testing.T) {
	c := Classify("RuntimeError", "CUDA out of memory while allocating tensor", 0)
	assert.Equal(t, CategoryResource, c.Category)
	assert.Equal(t, StrategyQueueAndWait, c.Strategy)
	assert.Equal(t, 300, c.WaitTime)
	assert.True(t, c.Recoverable)
}

func TestClassifyValidationIsNotRecoverable(t *testing.T) {
	c := Classify("RuntimeError", "validation failed: missing required field", 0)
	assert.Equal(t, CategoryValidation, c.Category)
	assert.False(t, c.Recoverable)
	assert.True(t, c.NotifyUser)
}

func TestClassifyPermanentAlertsAdmin(t *testing.T) {
	c := Classify("RuntimeError", "model not found in registry", 0)
	assert.Equal(t, CategoryPermanent, c.Category)
	assert.True(t, c.AlertAdmin)
	assert.False(t, c.Recoverable)
}

func TestClassifyUnknownDefaultsToRetryOnce(t *testing.T) {
	c := Classify("RuntimeError", "something completely unrecognized happened", 0)
	assert.Equal(t, CategoryUnknown, c.Category)
	assert.Equal(t, StrategyRetryOnce, c.Strategy)
	assert.Equal(t, 1, c.MaxRetries)
}

func TestClassifyRetryableStatusCodeOverridesMessage(t *testing.T) {
	c := Classify("HTTPError", "model not found upstream", 503)
	assert.Equal(t, CategoryTransient, c.Category)
}

func TestStatusCodeFromMessageExtractsEmbeddedCode(t *testing.T) {
	assert.Equal(t, 503, StatusCodeFromMessage("upstream returned 503."))
	assert.Equal(t, 0, StatusCodeFromMessage("no code here"))
}
