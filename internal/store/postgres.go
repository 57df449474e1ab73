package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	duration      BIGINT,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	client_ip     TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at);

CREATE TABLE IF NOT EXISTS provider_configs (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	provider_type   TEXT NOT NULL,
	api_key         TEXT NOT NULL DEFAULT '',
	api_url         TEXT,
	organization_id TEXT,
	is_active       BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_provider_configs_active ON provider_configs (provider_type, is_active);

CREATE TABLE IF NOT EXISTS client_limits (
	client_id    TEXT PRIMARY KEY,
	rpm_limit    INTEGER NOT NULL,
	tpm_limit    INTEGER NOT NULL,
	current_rpm  INTEGER NOT NULL DEFAULT 0,
	current_tpm  INTEGER NOT NULL DEFAULT 0,
	window_start BIGINT NOT NULL DEFAULT 0
);
`

var postgresDialect = dialect{
	name:       "postgres",
	schema:     postgresSchema,
	positional: true,
	lockRow:    " FOR UPDATE",
}

// OpenPostgres connects with lib/pq, verifies the connection and migrates
// the schema. Rate-limit rows are locked with SELECT ... FOR UPDATE.
func OpenPostgres(ctx context.Context, cfg Config) (*SQLStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newSQLStore(ctx, db, postgresDialect, false)
}
