package pipeline

import (
	"time"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

// StepObserver receives pipeline events, typically to record metrics.
type StepObserver interface {
	StepFinished(step domain.Step, status domain.StepStatus, elapsed time.Duration)
	RunFinished(state domain.RunState, hasReport bool)
	StaticIndicatorsFound(iocs []domain.Indicator)
}

type nopObserver struct{}

func (nopObserver) StepFinished(domain.Step, domain.StepStatus, time.Duration) {}
func (nopObserver) RunFinished(domain.RunState, bool) {}
func (nopObserver) StaticIndicatorsFound([]domain.Indicator) {}
