package crawlerdb

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS queue (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL,
		pattern TEXT NOT NULL DEFAULT '',
		force BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_url ON queue(url)`,
	`CREATE TABLE IF NOT EXISTS urls (
		url TEXT PRIMARY KEY,
		accessed TIMESTAMPTZ NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		content_length BIGINT,
		status INTEGER NOT NULL DEFAULT 0,
		response TEXT NOT NULL DEFAULT '',
		response_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		validation_type TEXT NOT NULL DEFAULT '',
		valid BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		from_url TEXT NOT NULL,
		to_url TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		UNIQUE (from_url, to_url)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_to_url ON links(to_url)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		pattern TEXT NOT NULL DEFAULT '',
		force BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_url ON queue(url)`,
	`CREATE TABLE IF NOT EXISTS urls (
		url TEXT PRIMARY KEY,
		accessed TIMESTAMP NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		content_length INTEGER,
		status INTEGER NOT NULL DEFAULT 0,
		response TEXT NOT NULL DEFAULT '',
		response_time REAL NOT NULL DEFAULT 0,
		validation_type TEXT NOT NULL DEFAULT '',
		valid BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		from_url TEXT NOT NULL,
		to_url TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		UNIQUE (from_url, to_url)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_to_url ON links(to_url)`,
}

// setupSchema creates the queue, urls and links tables if they don't exist.
func (p *DB) setupSchema(ctx context.Context) error {
	stmts := postgresSchema
	if p.db.DriverName() == driverSQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("Unable to set up schema: %w", err)
		}
	}
	return nil
}
