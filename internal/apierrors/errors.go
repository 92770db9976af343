// Package apierrors provides the orchestrator's unified error payload
// and typed constructors per error code.
package apierrors

import (
	"errors"
	"fmt"
)

// Code is one of the orchestrator's public error codes.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeResourceNotFound   Code = "RESOURCE_NOT_FOUND"
	CodeTaskError          Code = "TASK_ERROR"
	CodeWorkflowExecution  Code = "WORKFLOW_EXECUTION_ERROR"
	CodeWorkflowTimeout    Code = "WORKFLOW_TIMEOUT"
	CodeInsufficientRes    Code = "INSUFFICIENT_RESOURCES"
	CodeCircuitBreakerOpen Code = "CIRCUIT_BREAKER_OPEN"
	CodeDispatchError      Code = "DISPATCH_ERROR"
)

// OrchestratorError is the typed error every component boundary converts
// into before it crosses into caller-visible territory.
type OrchestratorError struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *OrchestratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *OrchestratorError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a detail field and returns the receiver for chaining.
func (e *OrchestratorError) WithDetail(key string, value interface{}) *OrchestratorError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New builds a bare OrchestratorError.
func New(code Code, message string) *OrchestratorError {
	return &OrchestratorError{Code: code, Message: message}
}

// Wrap builds an OrchestratorError carrying an underlying cause.
func Wrap(code Code, message string, err error) *OrchestratorError {
	return &OrchestratorError{Code: code, Message: message, Err: err}
}

// Validation builds a VALIDATION_ERROR for the named field.
func Validation(field, reason string) *OrchestratorError {
	return New(CodeValidation, reason).WithDetail("field", field)
}

// NotFound builds a RESOURCE_NOT_FOUND for resource/id.
func NotFound(resourceType, id string) *OrchestratorError {
	return New(CodeResourceNotFound, "resource not found").
		WithDetail("resource_type", resourceType).
		WithDetail("id", id)
}

// TaskError builds a TASK_ERROR referencing taskID.
func TaskError(taskID, message string, err error) *OrchestratorError {
	return Wrap(CodeTaskError, message, err).WithDetail("task_id", taskID)
}

// WorkflowExecution builds a WORKFLOW_EXECUTION_ERROR for workflowID/stage.
func WorkflowExecution(workflowID, stage string, err error) *OrchestratorError {
	return Wrap(CodeWorkflowExecution, "workflow execution failed", err).
		WithDetail("workflow_id", workflowID).
		WithDetail("stage", stage)
}

// WorkflowTimeout builds a WORKFLOW_TIMEOUT for workflowID after timeoutSeconds.
func WorkflowTimeout(workflowID string, timeoutSeconds int) *OrchestratorError {
	return New(CodeWorkflowTimeout, "workflow timed out").
		WithDetail("workflow_id", workflowID).
		WithDetail("timeout_seconds", timeoutSeconds)
}

// InsufficientResources builds an INSUFFICIENT_RESOURCES error for a resource
// type, naming what was required vs. available.
func InsufficientResources(resourceType string, required, available float64) *OrchestratorError {
	return New(CodeInsufficientRes, "insufficient resources").
		WithDetail("resource_type", resourceType).
		WithDetail("required", required).
		WithDetail("available", available)
}

// CircuitOpen builds a CIRCUIT_BREAKER_OPEN error for the given service.
func CircuitOpen(service string) *OrchestratorError {
	return New(CodeCircuitBreakerOpen, "circuit breaker is open").
		WithDetail("service", service)
}

// Dispatch builds a DISPATCH_ERROR wrapping a submission-path failure.
func Dispatch(message string, err error) *OrchestratorError {
	return Wrap(CodeDispatchError, message, err)
}

// IsOrchestratorError reports whether err (or something it wraps) is an
// *OrchestratorError.
func IsOrchestratorError(err error) bool {
	var oe *OrchestratorError
	return errors.As(err, &oe)
}

// As extracts the *OrchestratorError from err's chain, if present.
func As(err error) *OrchestratorError {
	var oe *OrchestratorError
	if errors.As(err, &oe) {
		return oe
	}
	return nil
}

// CodeOf returns the Code of err if it is an OrchestratorError, else "".
func CodeOf(err error) Code {
	if oe := As(err); oe != nil {
		return oe.Code
	}
	return ""
}
