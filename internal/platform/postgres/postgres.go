// Package postgres opens the identity database and owns its DDL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns defaults suitable for a single service instance.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// Open connects through the pgx stdlib driver and pings the server.
func Open(ctx context.Context, cfg PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// schema is applied idempotently at startup. The clinical store lives in a
// different database and is migrated by its own store.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS identity_records (
		entity_type TEXT NOT NULL,
		id          TEXT NOT NULL,
		pseudonym   TEXT NOT NULL DEFAULT '',
		fields      JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (entity_type, id)
	)`,
	`CREATE INDEX IF NOT EXISTS identity_records_pseudonym_idx
		ON identity_records (entity_type, pseudonym)`,
	`CREATE TABLE IF NOT EXISTS entity_journal (
		id               TEXT PRIMARY KEY,
		op               TEXT NOT NULL,
		entity_type      TEXT NOT NULL,
		entity_id        TEXT NOT NULL,
		pseudonym        TEXT NOT NULL DEFAULT '',
		retain_sensitive BOOLEAN NOT NULL DEFAULT FALSE,
		status           TEXT NOT NULL,
		last_error       TEXT,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS entity_journal_status_idx
		ON entity_journal (entity_type, status, created_at)`,
}

// Migrate creates the identity and journal tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate identity database: %w", err)
		}
	}
	return nil
}
