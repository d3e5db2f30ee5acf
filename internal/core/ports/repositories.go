package ports

import (
	"context"
	"errors"
	"time"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

// ErrRunNotFound is returned by RunRepository lookups for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// RunRepository persists finished pipeline runs (completed or aborted) together with
// their step history and indicators.
type RunRepository interface {
	SaveRun(ctx context.Context, run domain.RunRecord) error
	FindRun(ctx context.Context, id string) (*domain.RunRecord, error)
	FindRecent(ctx context.Context, limit int) ([]domain.RunRecord, error)
	FindIndicatorsSince(ctx context.Context, since time.Time, limit int) ([]domain.Indicator, error)
}
