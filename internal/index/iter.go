package index

import (
	"context"
	"database/sql"
)

// FileIter is a lazy, finite, non-restartable sequence of file entries. It
// must not outlive the transaction/connection it was created from.
type FileIter struct {
	rows *sql.Rows
	cur  FileEntry
	err  error
}

// Next advances the iterator, returning false at end-of-sequence or on
// error (check Err to distinguish).
func (it *FileIter) Next() bool {
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	var crc, mode, uid, gid, mtime sql.NullInt64
	var e FileEntry
	if err := it.rows.Scan(&e.Path, &e.Parent, &e.Shard, &e.Offset, &e.Size, &crc, &mode, &uid, &gid, &mtime); err != nil {
		it.err = err
		return false
	}
	if crc.Valid {
		c := uint32(crc.Int64)
		e.CRC32C = &c
	}
	e.Mode = nullIntToUint32Ptr(mode)
	e.UID = nullIntToUint32Ptr(uid)
	e.GID = nullIntToUint32Ptr(gid)
	if mtime.Valid {
		m := mtime.Int64
		e.MtimeNs = &m
	}
	it.cur = e
	return true
}

// Entry returns the entry at the current iterator position.
func (it *FileIter) Entry() FileEntry { return it.cur }

// Err returns any error encountered while iterating.
func (it *FileIter) Err() error { return it.err }

// Close releases the underlying rows.
func (it *FileIter) Close() error { return it.rows.Close() }

const fileColumns = `path, parent, shard, offset, size, crc32c, mode, uid, gid, mtime_ns`

// IterByInsertion iterates files in insertion order (rowid ascending).
func (d *DB) IterByInsertion(ctx context.Context) (*FileIter, error) {
	rows, err := d.sqlDB.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	return &FileIter{rows: rows}, nil
}

// IterByPath iterates files in lexicographic path order.
func (d *DB) IterByPath(ctx context.Context, ascending bool) (*FileIter, error) {
	order := "ASC"
	if !ascending {
		order = "DESC"
	}
	rows, err := d.sqlDB.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY path `+order)
	if err != nil {
		return nil, err
	}
	return &FileIter{rows: rows}, nil
}

// IterByAddress iterates files in (shard, offset) ascending order.
func (d *DB) IterByAddress(ctx context.Context) (*FileIter, error) {
	rows, err := d.sqlDB.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY shard ASC, offset ASC`)
	if err != nil {
		return nil, err
	}
	return &FileIter{rows: rows}, nil
}

// IterRandom iterates files in a random order.
func (d *DB) IterRandom(ctx context.Context) (*FileIter, error) {
	rows, err := d.sqlDB.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY random()`)
	if err != nil {
		return nil, err
	}
	return &FileIter{rows: rows}, nil
}

// ListChildFiles returns the paths of files directly inside dir.
func (d *DB) ListChildFiles(ctx context.Context, dir string) ([]string, error) {
	rows, err := d.sqlDB.QueryContext(ctx, `SELECT path FROM files WHERE parent = ?`, dir)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListChildDirs returns the paths of directories directly inside dir.
func (d *DB) ListChildDirs(ctx context.Context, dir string) ([]string, error) {
	rows, err := d.sqlDB.QueryContext(ctx, `SELECT path FROM dirs WHERE parent = ?`, dir)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
