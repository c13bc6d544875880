package index

import (
	"context"
	"database/sql"
)

// HasConfigTable reports whether db's sqlite_master catalog already has a
// config table — its absence means a pre-0.2, pre-versioned index.
func HasConfigTable(ctx context.Context, db *sql.DB) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'config'`).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InstallTriggersV3 (re)installs the current, corrected stats-propagation
// trigger set, dropping whatever trigger set (if any) previously existed.
func (d *DB) InstallTriggersV3(ctx context.Context) error {
	_, err := d.sqlDB.ExecContext(ctx, triggersV3)
	return err
}

// InstallTriggersV2 installs the known-buggy 0.2 trigger set. It exists
// only so migration tests can reconstruct a 0.2-shaped archive to migrate
// away from; new archives never use it (see Create, which always installs
// triggersV3).
func (d *DB) InstallTriggersV2(ctx context.Context) error {
	_, err := d.sqlDB.ExecContext(ctx, triggersV2)
	return err
}

// EnsureSchema runs the base schema DDL (idempotent: every statement is
// CREATE TABLE/INDEX IF NOT EXISTS), used by the pre-0.2 migration path to
// bring a bare files-only database up to the current table shape before
// copying data in.
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err := d.sqlDB.ExecContext(ctx, schemaDDL)
	return err
}

// CurrentSchemaVersion returns the version this package writes for new
// archives and migrates existing ones to.
func CurrentSchemaVersion() (major, minor int) {
	return currentSchemaMajor, currentSchemaMinor
}
