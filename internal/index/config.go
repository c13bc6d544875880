package index

import (
	"context"
	"database/sql"
	"fmt"
)

// ConfigValue is a (text, int) pair, mirroring the config table's two value
// columns. Unknown keys are preserved verbatim by the schema; callers that
// only care about one side leave the other zero/empty and set HasInt/HasText
// accordingly so reads can tell "unset" from "zero".
type ConfigValue struct {
	Text    string
	HasText bool
	Int     int64
	HasInt  bool
}

// GetConfig reads a single config key.
func (d *DB) GetConfig(ctx context.Context, key string) (ConfigValue, bool, error) {
	var text sql.NullString
	var i sql.NullInt64
	row := d.sqlDB.QueryRowContext(ctx, `SELECT text_value, int_value FROM config WHERE key = ?`, key)
	if err := row.Scan(&text, &i); err != nil {
		if err == sql.ErrNoRows {
			return ConfigValue{}, false, nil
		}
		return ConfigValue{}, false, err
	}
	return ConfigValue{Text: text.String, HasText: text.Valid, Int: i.Int64, HasInt: i.Valid}, true, nil
}

// GetConfigInt is a convenience wrapper returning just the integer side.
func (d *DB) GetConfigInt(ctx context.Context, key string) (int64, error) {
	v, ok, err := d.GetConfig(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok || !v.HasInt {
		return 0, fmt.Errorf("index: config key %q not set", key)
	}
	return v.Int, nil
}

// SetConfig upserts a config key outside of any caller-managed transaction.
func (d *DB) SetConfig(ctx context.Context, key string, v ConfigValue) error {
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := setConfigTx(ctx, tx, key, v); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func setConfigTx(ctx context.Context, tx *sql.Tx, key string, v ConfigValue) error {
	var text interface{}
	var i interface{}
	if v.HasText {
		text = v.Text
	}
	if v.HasInt {
		i = v.Int
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO config (key, text_value, int_value) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET text_value = excluded.text_value, int_value = excluded.int_value
	`, key, text, i)
	return err
}

// SetUseTriggers toggles live stats propagation (bulk-import fast path).
func (d *DB) SetUseTriggers(ctx context.Context, enabled bool) error {
	v := int64(0)
	if enabled {
		v = 1
	}
	return d.SetConfig(ctx, "use_triggers", ConfigValue{Int: v, HasInt: true})
}

// UseTriggers reports whether live stats propagation is currently enabled.
func (d *DB) UseTriggers(ctx context.Context) (bool, error) {
	v, err := d.GetConfigInt(ctx, "use_triggers")
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// ShardSizeLimit reads the configured shard size limit.
func (d *DB) ShardSizeLimit(ctx context.Context) (int64, error) {
	return d.GetConfigInt(ctx, "shard_size_limit")
}

// SetShardSizeLimit updates the configured shard size limit (used by
// Reshard once the new layout is in place).
func (d *DB) SetShardSizeLimit(ctx context.Context, limit int64) error {
	return d.SetConfig(ctx, "shard_size_limit", ConfigValue{Int: limit, HasInt: true})
}

// SchemaVersion reads the on-disk schema version.
func (d *DB) SchemaVersion(ctx context.Context) (major, minor int, err error) {
	maj, err := d.GetConfigInt(ctx, "schema_version_major")
	if err != nil {
		return 0, 0, err
	}
	min, err := d.GetConfigInt(ctx, "schema_version_minor")
	if err != nil {
		return 0, 0, err
	}
	return int(maj), int(min), nil
}
