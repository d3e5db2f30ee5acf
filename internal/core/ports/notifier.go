package ports

import "github.com/hive-corporation/dfir-engine/internal/core/domain"

// Notifier defines the interface for sending run notifications to external systems
type Notifier interface {
	// NotifyRunCompleted reports a run that reached the analysis step
	NotifyRunCompleted(run domain.RunRecord) error

	// NotifyRunAborted reports a run stopped by a failing step
	NotifyRunAborted(run domain.RunRecord) error
}
