package pipeline

import (
	"errors"
	"fmt"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

var (
	ErrEmptyInput       = errors.New("input is empty")
	ErrUnknownStep      = errors.New("unknown step")
	ErrInvalidStepOrder = errors.New("steps must be the full or offline pipeline")
	ErrRunSuperseded    = errors.New("run superseded by a newer run")
	ErrRunInProgress    = errors.New("a run is in progress")
	ErrRunNotCompleted  = errors.New("run did not complete")
	ErrNoArtifact       = errors.New("no artifact available")
	ErrNoCollaborator   = errors.New("no collaborator configured for delegated step")
)

// StepError is returned when a step fails and the run is aborted.
type StepError struct {
	Step domain.Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
