package pipeline

import (
	"fmt"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

// transition moves the record to the next lifecycle state, rejecting anything
// outside Idle -> Running -> {Completed, Aborted}. Any state may return to Idle
// (reset, or the start of a new run).
func transition(rec *domain.RunRecord, to domain.RunState) error {
	from := rec.State
	if from == "" {
		from = domain.RunIdle
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed run transition: %s -> %s", from, to)
	}
	rec.State = to
	return nil
}

func isAllowedTransition(from, to domain.RunState) bool {
	if to == domain.RunIdle {
		return true
	}
	switch from {
	case domain.RunIdle:
		return to == domain.RunRunning
	case domain.RunRunning:
		return to == domain.RunCompleted || to == domain.RunAborted
	default:
		return false
	}
}
