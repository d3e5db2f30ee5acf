package domain

import "time"

// RunState is the orchestrator's lifecycle state
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunAborted   RunState = "aborted"
)

// IsTerminal reports whether the state ends a run
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunAborted
}

// RunRecord is a finished (or in-flight) pipeline run as persisted and exported
type RunRecord struct {
	ID               string           `json:"id"`
	Provider         string           `json:"provider"`
	State            RunState         `json:"state"`
	StepIndex        int              `json:"step_index"`
	Input            string           `json:"input,omitempty"`
	Artifact         string           `json:"artifact"`
	History          []StepResult     `json:"history"`
	Report           *AnalysisSummary `json:"report,omitempty"`
	StaticIndicators []Indicator      `json:"static_indicators,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at,omitempty"`
}

// HasReport distinguishes "completed with report" from "completed without report"
func (r RunRecord) HasReport() bool {
	return r.Report != nil
}

// Indicators returns the report's merged list when a report exists, otherwise the
// statically scanned indicators.
func (r RunRecord) Indicators() []Indicator {
	if r.Report != nil {
		return r.Report.IOCs
	}
	return r.StaticIndicators
}

// FailedStep returns the step that aborted the run, if any
func (r RunRecord) FailedStep() (StepResult, bool) {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Status == StatusError {
			return r.History[i], true
		}
	}
	return StepResult{}, false
}
