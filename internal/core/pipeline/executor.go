package pipeline

import (
	"context"
	"fmt"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

// Dispatcher executes deterministic steps locally and hands every other step to
// its collaborator. A nil collaborator restricts it to the local steps.
type Dispatcher struct {
	Collaborator ports.Collaborator
}

var _ ports.StepExecutor = (*Dispatcher)(nil)

// NewDispatcher creates a step executor bound to one collaborator for a run.
func NewDispatcher(collaborator ports.Collaborator) *Dispatcher {
	return &Dispatcher{Collaborator: collaborator}
}

func (d *Dispatcher) Execute(ctx context.Context, step domain.Step, artifact string) (ports.Outcome, error) {
	switch step {
	case domain.StepStabilize:
		return ports.Outcome{
			Content:     domain.Normalize(artifact),
			Description: "Normalized indentation and braces.",
		}, nil

	case domain.StepLiteralDecode:
		return ports.Outcome{
			Content:     domain.DecodeHexEscapes(artifact),
			Description: "Static literals recovered.",
		}, nil

	case domain.StepRotationResolve:
		return resolveRotation(artifact), nil
	}

	if !step.IsKnown() {
		return ports.Outcome{}, fmt.Errorf("%w %q", ErrUnknownStep, step)
	}
	if d.Collaborator == nil {
		return ports.Outcome{}, ErrNoCollaborator
	}

	content, err := d.Collaborator.ProcessStep(ctx, step, artifact)
	if err != nil {
		return ports.Outcome{}, err
	}

	return ports.Outcome{
		Content:     content,
		Description: fmt.Sprintf("Process successful for %s.", step.Label()),
	}, nil
}

func resolveRotation(artifact string) ports.Outcome {
	out, report := domain.ResolveArrayRotationsReport(artifact)
	if !report.Applied {
		return ports.Outcome{
			Content:     out,
			Description: "No string pool rotation detected.",
		}
	}

	desc := fmt.Sprintf("Reversed rotation of %s by %s (%d moves).", report.Pool, report.RawOffset, report.Moves)
	if report.Ambiguous {
		desc += fmt.Sprintf(" Routine uses a %s counter; the runtime move count may differ by one.", report.Variant)
	}
	return ports.Outcome{
		Content:     out,
		Description: desc,
		Warning:     report.Ambiguous,
	}
}
