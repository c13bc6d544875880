// Package index owns the relational store backing a barecat archive: the
// files/dirs/config schema, the stats-propagation triggers, and the
// migration between schema versions.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection backing one archive's index.
type DB struct {
	sqlDB *sql.DB
	path  string
	log   zerolog.Logger
}

// Option configures Open/Create.
type Option func(*DB)

// WithLogger attaches a logger; defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option { return func(d *DB) { d.log = l } }

// dsn builds the modernc.org/sqlite DSN. WAL journaling lets concurrent
// readers proceed without blocking each other or the single writer.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(0)&_pragma=busy_timeout(5000)", path)
}

// Create makes a brand-new index file at path with the current schema and
// default config.
func Create(ctx context.Context, path string, opts ...Option) (*DB, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("index: %s already exists", path)
	}

	d, err := open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}

	if _, err := d.sqlDB.ExecContext(ctx, schemaDDL); err != nil {
		d.Close()
		return nil, fmt.Errorf("index: create schema: %w", err)
	}
	if _, err := d.sqlDB.ExecContext(ctx, triggersV3); err != nil {
		d.Close()
		return nil, fmt.Errorf("index: create triggers: %w", err)
	}

	defaults := map[string]ConfigValue{
		"use_triggers":         {Int: 1, HasInt: true},
		"shard_size_limit":     {Int: (1 << 63) - 1, HasInt: true},
		"schema_version_major": {Int: currentSchemaMajor, HasInt: true},
		"schema_version_minor": {Int: currentSchemaMinor, HasInt: true},
	}
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		d.Close()
		return nil, err
	}
	for k, v := range defaults {
		if err := setConfigTx(ctx, tx, k, v); err != nil {
			tx.Rollback()
			d.Close()
			return nil, err
		}
	}
	if err := insertRootDirTx(ctx, tx); err != nil {
		tx.Rollback()
		d.Close()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		d.Close()
		return nil, err
	}

	d.log.Info().Str("path", path).Msg("index created")
	return d, nil
}

// Open opens an existing index file.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	return open(ctx, path, opts...)
}

func open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite connections are not meant to be shared across goroutines for writes

	d := &DB{sqlDB: sqlDB, path: path, log: zerolog.Nop()}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func insertRootDirTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dirs (path, parent) VALUES ('', NULL)`)
	return err
}

// Path returns the filesystem path of the index file.
func (d *DB) Path() string { return d.path }

// Raw exposes the underlying *sql.DB for components (defrag, verify) that
// need direct SQL access beyond this package's statement set.
func (d *DB) Raw() *sql.DB { return d.sqlDB }

// BeginTx starts a transaction.
func (d *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.sqlDB.BeginTx(ctx, nil)
}

// IntegrityCheck runs SQLite's own integrity check (PRAGMA integrity_check)
// and returns the list of problems reported (empty slice means healthy).
func (d *DB) IntegrityCheck(ctx context.Context) ([]string, error) {
	rows, err := d.sqlDB.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	return problems, rows.Err()
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.sqlDB.Close()
}
