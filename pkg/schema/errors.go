package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeDefinitionNotFound = "DEFINITION_NOT_FOUND"
	ErrCodeNoEntryPoint       = "NO_ENTRY_POINT"
	ErrCodeDanglingSuccessor  = "DANGLING_SUCCESSOR"
	ErrCodeCycleDetected      = "CYCLE_DETECTED"
	ErrCodeStepFailed         = "STEP_FAILED"
	ErrCodeUnresolvedVariable = "UNRESOLVED_VARIABLE"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeHandlerUnavailable = "HANDLER_UNAVAILABLE"
	ErrCodeStore              = "STORE_ERROR"
)

// Sentinels for errors.Is matching. A *FlowError matches a sentinel when the
// codes are equal, regardless of message or step.
var (
	ErrDefinitionNotFound = &FlowError{Code: ErrCodeDefinitionNotFound}
	ErrNoEntryPoint       = &FlowError{Code: ErrCodeNoEntryPoint}
	ErrDanglingSuccessor  = &FlowError{Code: ErrCodeDanglingSuccessor}
	ErrCycleDetected      = &FlowError{Code: ErrCodeCycleDetected}
	ErrStepFailed         = &FlowError{Code: ErrCodeStepFailed}
	ErrUnresolvedVariable = &FlowError{Code: ErrCodeUnresolvedVariable}
	ErrCancelled          = &FlowError{Code: ErrCodeCancelled}
	ErrNotFound           = &FlowError{Code: ErrCodeNotFound}
	ErrConflict           = &FlowError{Code: ErrCodeConflict}
	ErrValidation         = &FlowError{Code: ErrCodeValidation}
)

// FlowError is the structured error type for all engine operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *FlowError with the same code.
func (e *FlowError) Is(target error) bool {
	var t *FlowError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *FlowError) WithStep(stepID string) *FlowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first FlowError in err's chain, or "".
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
