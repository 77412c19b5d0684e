package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation error")
)

// NewValidationError formats a message and wraps ErrValidation.
func NewValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Stage identifies the pipeline stage an error originated in.
type Stage string

const (
	StageIngestion     Stage = "ingestion"
	StagePreprocessing Stage = "preprocessing"
	StageInference     Stage = "inference"
	StageReporting     Stage = "reporting"
)

// PipelineError is the only error shape a stage hands back to the
// orchestrator. Its message becomes the job's stored error message.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error", e.Stage)
	}
	return fmt.Sprintf("%s error: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError tags err with the stage it came from.
func NewPipelineError(stage Stage, err error) *PipelineError {
	return &PipelineError{Stage: stage, Err: err}
}

// StageErrorf builds a PipelineError from a formatted cause.
func StageErrorf(stage Stage, format string, args ...any) *PipelineError {
	return &PipelineError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// StageOf returns the stage tag carried by err, if any.
func StageOf(err error) (Stage, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}

// IsStage reports whether err is a PipelineError tagged with stage.
func IsStage(err error, stage Stage) bool {
	s, ok := StageOf(err)
	return ok && s == stage
}
