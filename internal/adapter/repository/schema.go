package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS dfir_runs (
	id          UUID PRIMARY KEY,
	provider    TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	step_index  INTEGER NOT NULL DEFAULT 0,
	input       TEXT NOT NULL DEFAULT '',
	artifact    TEXT NOT NULL DEFAULT '',
	report      JSONB,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS dfir_step_results (
	run_id      UUID NOT NULL REFERENCES dfir_runs(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	step        TEXT NOT NULL,
	content     TEXT NOT NULL,
	description TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS dfir_indicators (
	run_id     UUID NOT NULL REFERENCES dfir_runs(id) ON DELETE CASCADE,
	origin     TEXT NOT NULL,
	position   INTEGER NOT NULL,
	type       TEXT NOT NULL,
	value      TEXT NOT NULL,
	context    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, origin, position)
);

CREATE INDEX IF NOT EXISTS dfir_indicators_created_at_idx ON dfir_indicators (created_at DESC);
CREATE INDEX IF NOT EXISTS dfir_runs_started_at_idx ON dfir_runs (started_at DESC);
`

// EnsureSchema creates the run tables when they do not exist yet
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
