package engine

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a run is started while another run holds
// the engine or the cross-process lock.
var ErrRunInProgress = errors.New("a provisioning run is already in progress")

// ErrorClass represents the classification of an error for recovery logic.
type ErrorClass string

const (
	// ErrorClassAbsence marks an expected absence, e.g. a missing interpreter.
	// It drives a branch and is never surfaced as a failure.
	ErrorClassAbsence ErrorClass = "absence"

	// ErrorClassFatal aborts the pipeline and triggers cleanup.
	// Examples: network failure, extraction failure, non-zero exit of an install.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassCanceled marks a run stopped by the user.
	ErrorClassCanceled ErrorClass = "canceled"

	// ErrorClassPersistence marks unreadable or unwritable state. Load
	// failures are recovered by starting fresh.
	ErrorClassPersistence ErrorClass = "persistence"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the pipeline step that failed, if any.
	Step string `json:"step,omitempty"`

	// Detail holds captured diagnostics such as subprocess stderr.
	Detail string `json:"detail,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Step != "" {
		msg = fmt.Sprintf("%s (step=%s)", msg, e.Step)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewFatalError creates a new fatal error.
func NewFatalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFatal,
		Message: message,
		Err:     err,
	}
}

// NewAbsenceError creates an error for an expected absence.
func NewAbsenceError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassAbsence,
		Message: message,
		Err:     err,
	}
}

// NewCanceledError creates a new cancellation error.
func NewCanceledError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassCanceled,
		Message: message,
	}
}

// NewPersistenceError creates a new persistence error.
func NewPersistenceError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPersistence,
		Message: message,
		Err:     err,
	}
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(step string) *EngineError {
	e.Step = step
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail attaches diagnostic output to the error.
func (e *EngineError) WithDetail(detail string) *EngineError {
	e.Detail = detail
	return e
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// IsCanceled returns true if the error is classified as a cancellation.
func IsCanceled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassCanceled
	}
	return false
}

// IsPersistence returns true if the error is classified as a persistence
// failure.
func IsPersistence(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPersistence
	}
	return false
}

// Common error codes.
const (
	ErrCodeInterpreter = "INTERPRETER_UNAVAILABLE"
	ErrCodeArtifact    = "ARTIFACT_FAILED"
	ErrCodeProcess     = "PROCESS_FAILED"
	ErrCodePackages    = "PACKAGE_MANAGER_FAILED"
	ErrCodeActivation  = "ACTIVATION_FAILED"
	ErrCodeState       = "STATE_FAILED"
)
