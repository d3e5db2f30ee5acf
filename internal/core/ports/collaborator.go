package ports

import (
	"context"
	"errors"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

// Collaborator is an external text transformer (typically a language model) that
// handles the non-deterministic pipeline steps. For the analysis step the returned
// text is expected to be a JSON report; for every other step it is the transformed
// code. An empty result is valid and means "no change".
type Collaborator interface {
	ID() string
	Name() string
	ProcessStep(ctx context.Context, step domain.Step, code string) (string, error)
}

// ErrUnknownProvider is returned when a provider id has no registered collaborator.
var ErrUnknownProvider = errors.New("unknown provider")

// CollaboratorRegistry resolves provider ids chosen per run.
type CollaboratorRegistry interface {
	Get(id string) (Collaborator, error)
}

// Outcome is the result of executing one step over the working artifact.
type Outcome struct {
	Content     string
	Description string
	// Warning marks a step that succeeded with a caveat worth surfacing.
	Warning bool
}

// StepExecutor runs a single pipeline step. A returned error aborts the run.
type StepExecutor interface {
	Execute(ctx context.Context, step domain.Step, artifact string) (Outcome, error)
}
