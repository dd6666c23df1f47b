package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS event_logs (
		id          UUID PRIMARY KEY,
		event_type  TEXT        NOT NULL,
		alias       TEXT        NOT NULL DEFAULT '',
		payload     JSONB       NOT NULL DEFAULT '{}'::jsonb,
		message     TEXT        NOT NULL DEFAULT '',
		screenshot  TEXT        NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS event_logs_created_at_idx ON event_logs (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS event_logs_alias_idx ON event_logs (alias, created_at DESC)`,
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
