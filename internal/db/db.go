// Package db is the optional Postgres ledger of pipeline events and
// training experiments.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps the Postgres connection pool.
type DB struct {
	conn *sql.DB
}

// Open connects to the database at dsn through the pgx driver.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(4)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS croak_schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id          BIGSERIAL PRIMARY KEY,
    project     TEXT NOT NULL,
    event       TEXT NOT NULL,
    stage       TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pipeline_project ON pipeline_events(project, timestamp DESC);

CREATE TABLE IF NOT EXISTS experiments (
    id            TEXT PRIMARY KEY,
    project       TEXT NOT NULL,
    status        TEXT NOT NULL CHECK(status IN ('pending','running','completed','failed')),
    architecture  TEXT NOT NULL DEFAULT '',
    metrics       JSONB NOT NULL DEFAULT '{}'::jsonb,
    model_path    TEXT NOT NULL DEFAULT '',
    started       TIMESTAMPTZ,
    completed     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_experiments_project ON experiments(project, started DESC);
`

// Migrate applies the database schema.
func (d *DB) Migrate(ctx context.Context) error {
	var count int
	err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM croak_schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO croak_schema_version (version) VALUES (1) ON CONFLICT DO NOTHING"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset(ctx context.Context) error {
	tables := []string{"experiments", "pipeline_events", "croak_schema_version"}
	for _, t := range tables {
		if _, err := d.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate(ctx)
}
