package errors

import (
	"errors"
	"fmt"
)

// Class partitions pipeline failures into the four handling categories.
type Class string

const (
	// ClassConfig marks configuration errors: fatal at construction, the
	// pipeline does not start.
	ClassConfig Class = "config"
	// ClassRecord marks record-level errors: the record is rejected or
	// flagged and counted, never propagated as a pipeline failure.
	ClassRecord Class = "record"
	// ClassStage marks unexpected errors inside a stage: the offending
	// record is isolated, the batch continues.
	ClassStage Class = "stage"
	// ClassExternal marks external-dependency errors: retried with bounded
	// backoff, then surfaced as a critical alert.
	ClassExternal Class = "external"
)

// PipelineError wraps an error with its handling class and originating stage.
type PipelineError struct {
	Class Class
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s error in %s: %v", e.Class, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Class, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a fatal configuration error.
func NewConfigError(format string, args ...interface{}) *PipelineError {
	return &PipelineError{Class: ClassConfig, Err: fmt.Errorf(format, args...)}
}

// NewRecordError creates a locally recovered record-level error.
func NewRecordError(stage string, err error) *PipelineError {
	return &PipelineError{Class: ClassRecord, Stage: stage, Err: err}
}

// NewStageError creates a stage-level error for poison-record isolation.
func NewStageError(stage string, err error) *PipelineError {
	return &PipelineError{Class: ClassStage, Stage: stage, Err: err}
}

// NewExternalError creates an external-dependency error.
func NewExternalError(stage string, err error) *PipelineError {
	return &PipelineError{Class: ClassExternal, Stage: stage, Err: err}
}

// ClassOf returns the class of err, or the zero Class when err is not a
// PipelineError.
func ClassOf(err error) Class {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ""
}

// IsConfigError reports whether err is a fatal configuration error.
func IsConfigError(err error) bool {
	return ClassOf(err) == ClassConfig
}

// IsExternalError reports whether err is an external-dependency error.
func IsExternalError(err error) bool {
	return ClassOf(err) == ClassExternal
}
