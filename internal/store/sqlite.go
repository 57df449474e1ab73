package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	duration      INTEGER,
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
	is_active       BOOLEAN NOT NULL DEFAULT 0,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_provider_configs_active ON provider_configs (provider_type, is_active);

CREATE TABLE IF NOT EXISTS client_limits (
	client_id    TEXT PRIMARY KEY,
	rpm_limit    INTEGER NOT NULL,
	tpm_limit    INTEGER NOT NULL,
	current_rpm  INTEGER NOT NULL DEFAULT 0,
	current_tpm  INTEGER NOT NULL DEFAULT 0,
	window_start INTEGER NOT NULL DEFAULT 0
);
`

var sqliteDialect = dialect{
	name:   "sqlite",
	schema: sqliteSchema,
}

// OpenSQLite opens (creating if needed) the database file at path and
// migrates the schema. SQLite allows a single writer, so the pool is
// limited to one connection and rate-limit transactions are serialized in
// process.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store requires a database path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return newSQLStore(ctx, db, sqliteDialect, true)
}
