package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements — DDL таблиц слоя триггеров. Все выражения идемпотентны.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trigger_kv (
		flow_id    UUID        NOT NULL,
		scope      TEXT        NOT NULL,
		key        TEXT        NOT NULL,
		value      BYTEA       NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (flow_id, scope, key)
	)`,
	`CREATE TABLE IF NOT EXISTS trigger_leases (
		key        TEXT        PRIMARY KEY,
		holder     TEXT        NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trigger_runs (
		id           UUID        PRIMARY KEY,
		flow_id      UUID        NOT NULL,
		trigger_name TEXT        NOT NULL,
		status       TEXT        NOT NULL,
		payload      JSONB,
		synchronous  BOOLEAN     NOT NULL DEFAULT FALSE,
		error        TEXT,
		finished_at  TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS trigger_runs_flow_idx ON trigger_runs (flow_id, created_at DESC)`,
}

// Migrate создаёт таблицы, если их ещё нет.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
