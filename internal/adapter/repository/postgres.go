package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

const (
	originReport = "report"
	originStatic = "static"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ ports.RunRepository = (*PostgresRepository)(nil)

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// SaveRun upserts the run row and replaces its history and indicators in one transaction
func (r *PostgresRepository) SaveRun(ctx context.Context, run domain.RunRecord) error {
	var report []byte
	if run.Report != nil {
		var err error
		report, err = json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
	}

	var finishedAt *time.Time
	if !run.FinishedAt.IsZero() {
		finishedAt = &run.FinishedAt
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO dfir_runs (id, provider, state, step_index, input, artifact, report, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				provider = EXCLUDED.provider,
				state = EXCLUDED.state,
				step_index = EXCLUDED.step_index,
				artifact = EXCLUDED.artifact,
				report = EXCLUDED.report,
				finished_at = EXCLUDED.finished_at
		`, run.ID, run.Provider, run.State, run.StepIndex, run.Input, run.Artifact, report, run.StartedAt, finishedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert run: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM dfir_step_results WHERE run_id = $1`, run.ID); err != nil {
			return fmt.Errorf("failed to clear step results: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM dfir_indicators WHERE run_id = $1`, run.ID); err != nil {
			return fmt.Errorf("failed to clear indicators: %w", err)
		}

		batch := &pgx.Batch{}

		for i, result := range run.History {
			batch.Queue(`
				INSERT INTO dfir_step_results (run_id, position, step, content, description, status, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, run.ID, i, result.Step, result.Content, result.Description, result.Status, result.Timestamp)
		}

		created := run.FinishedAt
		if created.IsZero() {
			created = run.StartedAt
		}
		queueIndicators(batch, run.ID, originStatic, run.StaticIndicators, created)
		if run.Report != nil {
			queueIndicators(batch, run.ID, originReport, run.Report.IOCs, created)
		}

		if batch.Len() == 0 {
			return nil
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to execute batch: %w", err)
			}
		}
		return br.Close()
	})
}

const insertIndicatorSQL = `
	INSERT INTO dfir_indicators (run_id, origin, position, type, value, context, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const selectIndicatorsSQL = `
	SELECT type, value, context
	FROM dfir_indicators
	WHERE run_id = $1 AND origin = $2
	ORDER BY position
`

// queueIndicators stores indicators with their slice position so FindRun
// returns them in scan order.
func queueIndicators(batch *pgx.Batch, runID, origin string, iocs []domain.Indicator, created time.Time) {
	for _, args := range indicatorRows(runID, origin, iocs, created) {
		batch.Queue(insertIndicatorSQL, args...)
	}
}

func indicatorRows(runID, origin string, iocs []domain.Indicator, created time.Time) [][]any {
	rows := make([][]any, 0, len(iocs))
	for i, ioc := range iocs {
		rows = append(rows, []any{runID, origin, i, ioc.Type, ioc.Value, ioc.Context, created})
	}
	return rows
}

func (r *PostgresRepository) FindRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	query := `
		SELECT id, provider, state, step_index, input, artifact, report, started_at, finished_at
		FROM dfir_runs
		WHERE id = $1
	`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ports.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if err := r.loadHistory(ctx, run); err != nil {
		return nil, err
	}
	if err := r.loadStaticIndicators(ctx, run); err != nil {
		return nil, err
	}

	return run, nil
}

// FindRecent returns run headers (without history) ordered newest first
func (r *PostgresRepository) FindRecent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	query := `
		SELECT id, provider, state, step_index, input, artifact, report, started_at, finished_at
		FROM dfir_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

func (r *PostgresRepository) FindIndicatorsSince(ctx context.Context, since time.Time, limit int) ([]domain.Indicator, error) {
	query := `
		SELECT DISTINCT ON (lower(value)) type, value, context
		FROM dfir_indicators
		WHERE created_at >= $1
		ORDER BY lower(value), created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicators since %v: %w", since, err)
	}
	defer rows.Close()

	return scanIndicators(rows)
}

func (r *PostgresRepository) loadHistory(ctx context.Context, run *domain.RunRecord) error {
	query := `
		SELECT step, content, description, status, created_at
		FROM dfir_step_results
		WHERE run_id = $1
		ORDER BY position
	`

	rows, err := r.db.Query(ctx, query, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query step results: %w", err)
	}
	defer rows.Close()

	run.History = []domain.StepResult{}
	for rows.Next() {
		var result domain.StepResult
		if err := rows.Scan(&result.Step, &result.Content, &result.Description, &result.Status, &result.Timestamp); err != nil {
			return fmt.Errorf("failed to scan step result: %w", err)
		}
		run.History = append(run.History, result)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

func (r *PostgresRepository) loadStaticIndicators(ctx context.Context, run *domain.RunRecord) error {
	rows, err := r.db.Query(ctx, selectIndicatorsSQL, run.ID, originStatic)
	if err != nil {
		return fmt.Errorf("failed to query indicators: %w", err)
	}
	defer rows.Close()

	iocs, err := scanIndicators(rows)
	if err != nil {
		return err
	}
	run.StaticIndicators = iocs
	return nil
}

func scanRun(row pgx.Row) (*domain.RunRecord, error) {
	var (
		run        domain.RunRecord
		report     []byte
		finishedAt *time.Time
	)

	err := row.Scan(
		&run.ID,
		&run.Provider,
		&run.State,
		&run.StepIndex,
		&run.Input,
		&run.Artifact,
		&report,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	if len(report) > 0 {
		run.Report = &domain.AnalysisSummary{}
		if err := json.Unmarshal(report, run.Report); err != nil {
			return nil, fmt.Errorf("failed to decode stored report: %w", err)
		}
	}

	return &run, nil
}

func scanIndicators(rows pgx.Rows) ([]domain.Indicator, error) {
	iocs := []domain.Indicator{}

	for rows.Next() {
		var ioc domain.Indicator
		if err := rows.Scan(&ioc.Type, &ioc.Value, &ioc.Context); err != nil {
			return nil, fmt.Errorf("failed to scan indicator: %w", err)
		}
		iocs = append(iocs, ioc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return iocs, nil
}
