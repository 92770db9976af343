package apierrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationDetails(t *testing.T) {
	err := Validation("prompt", "must not be empty")
	assert.Equal(t, CodeValidation, err.Code)
	assert.Equal(t, "prompt", err.Details["field"])
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := TaskError("task-1", "execution failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "task-1", err.Details["task_id"])
}

func TestIsOrchestratorError(t *testing.T) {
	err := NotFound("template", "image_gen")
	assert.True(t, IsOrchestratorError(err))
	assert.False(t, IsOrchestratorError(errors.New("plain")))
}

func TestCodeOf(t *testing.T) {
	err := CircuitOpen("comfyui")
	assert.Equal(t, CodeCircuitBreakerOpen, CodeOf(err))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestInsufficientResourcesDetails(t *testing.T) {
	err := InsufficientResources("vram_gb", 24, 8)
	assert.Equal(t, 24.0, err.Details["required"])
	assert.Equal(t, 8.0, err.Details["available"])
}
