package postgres

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

const latestSchema = `
CREATE TABLE IF NOT EXISTS session (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	nonce TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	last_activity_ts BIGINT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_session_nonce ON session (nonce) WHERE nonce != '';
CREATE INDEX IF NOT EXISTS idx_session_user_id ON session (user_id);
CREATE INDEX IF NOT EXISTS idx_session_updated_ts ON session (updated_ts);
CREATE INDEX IF NOT EXISTS idx_session_participants ON session USING GIN ((metadata -> 'participants'));

CREATE TABLE IF NOT EXISTS turn (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_turn_session_created ON turn (session_id, created_ts);

CREATE TABLE IF NOT EXISTS expression (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	priority_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	relationship_stage TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_expression_user_id ON expression (user_id);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	interaction_count BIGINT NOT NULL DEFAULT 0,
	preferences JSONB NOT NULL DEFAULT '{}',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	importance REAL NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_user_id ON memory (user_id);
`

const vectorSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
ALTER TABLE memory ADD COLUMN IF NOT EXISTS embedding vector(1024);
`

// Migrate creates the schema. The pgvector extension is optional: when it
// cannot be installed, memory search degrades to text matching and a warning
// is logged.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, latestSchema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}

	if _, err := d.db.ExecContext(ctx, vectorSchema); err != nil {
		slog.Warn("pgvector unavailable, memory search falls back to text matching", "error", err)
		d.vectorEnabled = false
		return nil
	}
	d.vectorEnabled = true
	return nil
}
