package index

import (
	"context"
	"database/sql"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/pathkey"
)

// LookupFile returns the file entry at path, or bcerr.ErrNotFound.
func (d *DB) LookupFile(ctx context.Context, path string) (FileEntry, error) {
	return lookupFileQuerier(ctx, d.sqlDB, path)
}

func lookupFileQuerier(ctx context.Context, q querier, path string) (FileEntry, error) {
	var e FileEntry
	var crc, mode, uid, gid, mtime sql.NullInt64
	row := q.QueryRowContext(ctx, `
		SELECT path, parent, shard, offset, size, crc32c, mode, uid, gid, mtime_ns
		FROM files WHERE path = ?`, path)
	if err := row.Scan(&e.Path, &e.Parent, &e.Shard, &e.Offset, &e.Size, &crc, &mode, &uid, &gid, &mtime); err != nil {
		if err == sql.ErrNoRows {
			return FileEntry{}, bcerr.ErrNotFound
		}
		return FileEntry{}, err
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
	return e, nil
}

// InsertFileTx inserts a file row, first materializing its parent directory
// chain. Fails with bcerr.ErrAlreadyExists on a duplicate path.
func InsertFileTx(ctx context.Context, tx *sql.Tx, e FileEntry) error {
	if e.Parent == "" && e.Path != "" {
		e.Parent = pathkey.Parent(e.Path)
	}
	if err := EnsureDirChainTx(ctx, tx, e.Parent); err != nil {
		return err
	}

	var crc interface{}
	if e.CRC32C != nil {
		crc = int64(*e.CRC32C)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO files (path, parent, shard, offset, size, crc32c, mode, uid, gid, mtime_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Path, e.Parent, e.Shard, e.Offset, e.Size, crc,
		ptrToAny(e.Mode), ptrToAny(e.UID), ptrToAny(e.GID), ptrToAny(e.MtimeNs))
	if err != nil {
		if isUniqueViolation(err) {
			return bcerr.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// DeleteFileTx removes a file row and returns the entry that was deleted.
func DeleteFileTx(ctx context.Context, tx *sql.Tx, path string) (FileEntry, error) {
	e, err := lookupFileQuerier(ctx, tx, path)
	if err != nil {
		return FileEntry{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return FileEntry{}, err
	}
	return e, nil
}

// RenameFileTx moves a file from oldPath to newPath within tx, implemented
// as delete-then-insert so stats propagation fires on both ends.
func RenameFileTx(ctx context.Context, tx *sql.Tx, oldPath, newPath string) error {
	e, err := DeleteFileTx(ctx, tx, oldPath)
	if err != nil {
		return err
	}
	e.Path = newPath
	e.Parent = pathkey.Parent(newPath)
	return InsertFileTx(ctx, tx, e)
}
