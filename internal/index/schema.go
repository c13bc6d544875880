package index

const schemaDDL = `
CREATE TABLE IF NOT EXISTS config (
	key        TEXT PRIMARY KEY,
	text_value TEXT,
	int_value  INTEGER
);

CREATE TABLE IF NOT EXISTS dirs (
	path           TEXT PRIMARY KEY,
	parent         TEXT,
	num_subdirs    INTEGER NOT NULL DEFAULT 0,
	num_files      INTEGER NOT NULL DEFAULT 0,
	num_files_tree INTEGER NOT NULL DEFAULT 0,
	size_tree      INTEGER NOT NULL DEFAULT 0,
	mode           INTEGER,
	uid            INTEGER,
	gid            INTEGER,
	mtime_ns       INTEGER
);
CREATE INDEX IF NOT EXISTS dirs_parent_idx ON dirs(parent);

CREATE TABLE IF NOT EXISTS files (
	path     TEXT PRIMARY KEY,
	parent   TEXT NOT NULL,
	shard    INTEGER NOT NULL,
	offset   INTEGER NOT NULL,
	size     INTEGER NOT NULL,
	crc32c   INTEGER,
	mode     INTEGER,
	uid      INTEGER,
	gid      INTEGER,
	mtime_ns INTEGER,
	seq      INTEGER
);
CREATE INDEX IF NOT EXISTS files_parent_idx ON files(parent);
CREATE INDEX IF NOT EXISTS files_shard_offset_idx ON files(shard, offset);
`

// triggersV3 is the current, corrected stats-propagation trigger set (the
// migration from 0.2 fixed a bug where num_files — a direct-child-only
// counter — was mistakenly propagated through ancestors on move/delete; see
// migrate.go).
const triggersV3 = `
DROP TRIGGER IF EXISTS files_after_insert;
DROP TRIGGER IF EXISTS files_after_delete;
DROP TRIGGER IF EXISTS dirs_after_insert;
DROP TRIGGER IF EXISTS dirs_after_delete;

CREATE TRIGGER files_after_insert AFTER INSERT ON files
WHEN (SELECT int_value FROM config WHERE key = 'use_triggers') = 1
BEGIN
	UPDATE dirs SET num_files = num_files + 1 WHERE path = NEW.parent;
	UPDATE dirs SET
		num_files_tree = num_files_tree + 1,
		size_tree = size_tree + NEW.size
	WHERE path IN (
		WITH RECURSIVE anc(path, parent) AS (
			SELECT path, parent FROM dirs WHERE path = NEW.parent
			UNION ALL
			SELECT d.path, d.parent FROM dirs d JOIN anc ON d.path = anc.parent
		)
		SELECT path FROM anc
	);
END;

CREATE TRIGGER files_after_delete AFTER DELETE ON files
WHEN (SELECT int_value FROM config WHERE key = 'use_triggers') = 1
BEGIN
	UPDATE dirs SET num_files = num_files - 1 WHERE path = OLD.parent;
	UPDATE dirs SET
		num_files_tree = num_files_tree - 1,
		size_tree = size_tree - OLD.size
	WHERE path IN (
		WITH RECURSIVE anc(path, parent) AS (
			SELECT path, parent FROM dirs WHERE path = OLD.parent
			UNION ALL
			SELECT d.path, d.parent FROM dirs d JOIN anc ON d.path = anc.parent
		)
		SELECT path FROM anc
	);
END;

CREATE TRIGGER dirs_after_insert AFTER INSERT ON dirs
WHEN (SELECT int_value FROM config WHERE key = 'use_triggers') = 1 AND NEW.parent IS NOT NULL
BEGIN
	UPDATE dirs SET num_subdirs = num_subdirs + 1 WHERE path = NEW.parent;
END;

CREATE TRIGGER dirs_after_delete AFTER DELETE ON dirs
WHEN (SELECT int_value FROM config WHERE key = 'use_triggers') = 1 AND OLD.parent IS NOT NULL
BEGIN
	UPDATE dirs SET num_subdirs = num_subdirs - 1 WHERE path = OLD.parent;
END;
`

// triggersV2 is the known-buggy 0.2 trigger set, kept only so Migrate can
// recognize and replace it; it propagated num_files (a direct-child-only
// counter) through the whole ancestor chain on every insert, which double
// counted files on move.
const triggersV2 = `
DROP TRIGGER IF EXISTS files_after_insert;
DROP TRIGGER IF EXISTS files_after_delete;
DROP TRIGGER IF EXISTS dirs_after_insert;
DROP TRIGGER IF EXISTS dirs_after_delete;

CREATE TRIGGER files_after_insert AFTER INSERT ON files
WHEN (SELECT int_value FROM config WHERE key = 'use_triggers') = 1
BEGIN
	UPDATE dirs SET
		num_files = num_files + 1,
		num_files_tree = num_files_tree + 1,
		size_tree = size_tree + NEW.size
	WHERE path IN (
		WITH RECURSIVE anc(path, parent) AS (
			SELECT path, parent FROM dirs WHERE path = NEW.parent
			UNION ALL
			SELECT d.path, d.parent FROM dirs d JOIN anc ON d.path = anc.parent
		)
		SELECT path FROM anc
	);
END;

CREATE TRIGGER files_after_delete AFTER DELETE ON files
WHEN (SELECT int_value FROM config WHERE key = 'use_triggers') = 1
BEGIN
	UPDATE dirs SET
		num_files = num_files - 1,
		num_files_tree = num_files_tree - 1,
		size_tree = size_tree - OLD.size
	WHERE path IN (
		WITH RECURSIVE anc(path, parent) AS (
			SELECT path, parent FROM dirs WHERE path = OLD.parent
			UNION ALL
			SELECT d.path, d.parent FROM dirs d JOIN anc ON d.path = anc.parent
		)
		SELECT path FROM anc
	);
END;

CREATE TRIGGER dirs_after_insert AFTER INSERT ON dirs
WHEN (SELECT int_value FROM config WHERE key = 'use_triggers') = 1 AND NEW.parent IS NOT NULL
BEGIN
	UPDATE dirs SET num_subdirs = num_subdirs + 1 WHERE path = NEW.parent;
END;

CREATE TRIGGER dirs_after_delete AFTER DELETE ON dirs
WHEN (SELECT int_value FROM config WHERE key = 'use_triggers') = 1 AND OLD.parent IS NOT NULL
BEGIN
	UPDATE dirs SET num_subdirs = num_subdirs - 1 WHERE path = OLD.parent;
END;
`

const (
	currentSchemaMajor = 0
	currentSchemaMinor = 3
)
