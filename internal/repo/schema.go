package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — таблицы apiflow. Все выражения идемпотентны.
const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	schedule    TEXT,
	definition  JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id           UUID PRIMARY KEY,
	workflow_id  TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	status       TEXT NOT NULL,
	trigger      TEXT,
	inputs       JSONB,
	report       JSONB,
	error        TEXT,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS runs_workflow_created_idx ON runs (workflow_id, created_at DESC);
CREATE INDEX IF NOT EXISTS runs_status_idx ON runs (status);
`

// Migrate создаёт таблицы, если их ещё нет.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
