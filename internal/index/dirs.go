package index

import (
	"context"
	"database/sql"
	"strings"

	"github.com/isarandi/barecat/internal/bcerr"
	"github.com/isarandi/barecat/internal/pathkey"
)

// LookupDir returns the directory entry at path, or bcerr.ErrNotFound.
func (d *DB) LookupDir(ctx context.Context, path string) (DirEntry, error) {
	return lookupDirQuerier(ctx, d.sqlDB, path)
}

func lookupDirQuerier(ctx context.Context, q querier, path string) (DirEntry, error) {
	var e DirEntry
	var parent sql.NullString
	var mode, uid, gid sql.NullInt64
	var mtime sql.NullInt64
	row := q.QueryRowContext(ctx, `
		SELECT path, parent, num_subdirs, num_files, num_files_tree, size_tree, mode, uid, gid, mtime_ns
		FROM dirs WHERE path = ?`, path)
	if err := row.Scan(&e.Path, &parent, &e.NumSubdirs, &e.NumFiles, &e.NumFilesTree, &e.SizeTree, &mode, &uid, &gid, &mtime); err != nil {
		if err == sql.ErrNoRows {
			return DirEntry{}, bcerr.ErrNotFound
		}
		return DirEntry{}, err
	}
	if parent.Valid {
		p := parent.String
		e.Parent = &p
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

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func nullIntToUint32Ptr(v sql.NullInt64) *uint32 {
	if !v.Valid {
		return nil
	}
	u := uint32(v.Int64)
	return &u
}

// DirExistsTx reports whether a directory row exists for path, within tx.
func DirExistsTx(ctx context.Context, tx *sql.Tx, path string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM dirs WHERE path = ?`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertDirTx inserts a single directory row (no ancestor materialization);
// callers that need the full chain use EnsureDirChainTx.
func InsertDirTx(ctx context.Context, tx *sql.Tx, e DirEntry) error {
	var parent interface{}
	if e.Parent != nil {
		parent = *e.Parent
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dirs (path, parent, mode, uid, gid, mtime_ns) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Path, parent, ptrToAny(e.Mode), ptrToAny(e.UID), ptrToAny(e.GID), ptrToAny(e.MtimeNs))
	if err != nil {
		if isUniqueViolation(err) {
			return bcerr.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// EnsureDirChainTx materializes path and every missing ancestor of path (up
// to, but not including, the root which always exists), inserting from the
// root downward so each insert's parent already exists and the num_subdirs
// trigger cascades correctly one level at a time.
func EnsureDirChainTx(ctx context.Context, tx *sql.Tx, path string) error {
	if path == "" {
		return nil
	}
	var chain []string
	for p := path; p != ""; p = pathkey.Parent(p) {
		chain = append(chain, p)
	}
	// chain is deepest-first; walk it in reverse (root-down) order.
	for i := len(chain) - 1; i >= 0; i-- {
		p := chain[i]
		exists, err := DirExistsTx(ctx, tx, p)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		parent := pathkey.Parent(p)
		if err := InsertDirTx(ctx, tx, DirEntry{Path: p, Parent: &parent}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDirTx removes a directory row, failing with ErrDirectoryNotEmpty if
// it still has children, or ErrNotFound if it doesn't exist.
func DeleteDirTx(ctx context.Context, tx *sql.Tx, path string) error {
	e, err := lookupDirQuerier(ctx, tx, path)
	if err != nil {
		return err
	}
	if e.NumSubdirs > 0 || e.NumFiles > 0 {
		return bcerr.ErrDirectoryNotEmpty
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM dirs WHERE path = ?`, path)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return bcerr.ErrNotFound
	}
	return nil
}

// UpdateDirMetaTx sets POSIX metadata on an existing directory row.
func UpdateDirMetaTx(ctx context.Context, tx *sql.Tx, path string, mode, uid, gid *uint32, mtimeNs *int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE dirs SET mode = ?, uid = ?, gid = ?, mtime_ns = ? WHERE path = ?`,
		ptrToAny(mode), ptrToAny(uid), ptrToAny(gid), ptrToAny(mtimeNs), path)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return bcerr.ErrNotFound
	}
	return nil
}

func ptrToAny[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite wraps the SQLite error message; there is no typed
	// sentinel exported for "constraint failed", so match the message the
	// driver is documented to produce.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
