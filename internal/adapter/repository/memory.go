package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

// MemoryRepository keeps runs in process. Used when no database is configured.
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]domain.RunRecord
}

var _ ports.RunRepository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[string]domain.RunRecord)}
}

func (r *MemoryRepository) SaveRun(ctx context.Context, run domain.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run has no id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *MemoryRepository) FindRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrRunNotFound, id)
	}
	out := cloneRun(run)
	return &out, nil
}

func (r *MemoryRepository) FindRecent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	r.mu.RLock()
	runs := make([]domain.RunRecord, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, cloneRun(run))
	}
	r.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// FindIndicatorsSince returns indicators of runs finished at or after since, newest
// run first, de-duplicated by value.
func (r *MemoryRepository) FindIndicatorsSince(ctx context.Context, since time.Time, limit int) ([]domain.Indicator, error) {
	runs, _ := r.FindRecent(ctx, 0)
	sort.SliceStable(runs, func(i, j int) bool {
		return finishedOrStarted(runs[i]).After(finishedOrStarted(runs[j]))
	})

	var all []domain.Indicator
	for _, run := range runs {
		if finishedOrStarted(run).Before(since) {
			continue
		}
		if run.Report != nil {
			all = append(all, run.Report.IOCs...)
		}
		all = append(all, run.StaticIndicators...)
	}

	iocs := domain.MergeIndicators(nil, all)
	if limit > 0 && len(iocs) > limit {
		iocs = iocs[:limit]
	}
	return iocs, nil
}

func finishedOrStarted(run domain.RunRecord) time.Time {
	if run.FinishedAt.IsZero() {
		return run.StartedAt
	}
	return run.FinishedAt
}

func cloneRun(run domain.RunRecord) domain.RunRecord {
	run.History = append([]domain.StepResult(nil), run.History...)
	run.StaticIndicators = append([]domain.Indicator(nil), run.StaticIndicators...)
	if run.Report != nil {
		report := *run.Report
		report.IOCs = append([]domain.Indicator(nil), report.IOCs...)
		report.Impacts = append([]string(nil), report.Impacts...)
		report.FlowDescription = append([]string(nil), report.FlowDescription...)
		report.DetectionRules = append([]domain.DetectionRule(nil), report.DetectionRules...)
		report.RemediationSteps = append([]string(nil), report.RemediationSteps...)
		run.Report = &report
	}
	return run
}
