package index

import (
	"context"
	"database/sql"
)

// GapsInShard returns every gap (a byte range not covered by any live file)
// within shard, in offset order: a leading gap before the first file, then
// the gaps between files found with the LEAD() window-function pattern
// from the spec: gap_size = LEAD(offset) - (offset + size). Space after the
// last file is not reported.
func (d *DB) GapsInShard(ctx context.Context, shard int) ([]Gap, error) {
	rows, err := d.sqlDB.QueryContext(ctx, `
		WITH ordered AS (
			SELECT offset, size,
			       LEAD(offset) OVER (ORDER BY offset) AS next_offset
			FROM files WHERE shard = ?
		)
		SELECT 0 AS gap_start, first_offset AS gap_size
		FROM (SELECT MIN(offset) AS first_offset FROM files WHERE shard = ?)
		WHERE first_offset > 0
		UNION ALL
		SELECT offset + size AS gap_start, next_offset - (offset + size) AS gap_size
		FROM ordered
		WHERE next_offset IS NOT NULL AND next_offset - (offset + size) > 0
		ORDER BY gap_start ASC`, shard, shard)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gaps []Gap
	for rows.Next() {
		var start, size int64
		if err := rows.Scan(&start, &size); err != nil {
			return nil, err
		}
		gaps = append(gaps, Gap{Shard: shard, Start: start, Length: size})
	}
	return gaps, rows.Err()
}

// MaxOffsetEnd returns max(offset+size) over all live files in shard, or
// (0, false) if the shard has no live files.
func (d *DB) MaxOffsetEnd(ctx context.Context, shard int) (int64, bool, error) {
	row := d.sqlDB.QueryRowContext(ctx, `SELECT MAX(offset + size) FROM files WHERE shard = ?`, shard)
	var v interface{}
	if err := row.Scan(&v); err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int64:
		return n, true, nil
	default:
		return 0, false, nil
	}
}

// ShardsInUse returns the distinct shard indices referenced by live files.
func (d *DB) ShardsInUse(ctx context.Context) ([]int, error) {
	rows, err := d.sqlDB.QueryContext(ctx, `SELECT DISTINCT shard FROM files ORDER BY shard ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LargestTrailingFile returns the file in shard with the highest offset
// (the "trailing" file), used by quick defrag to find move candidates.
func (d *DB) LargestTrailingFile(ctx context.Context, shard int) (FileEntry, bool, error) {
	e, err := lookupFileQuerierWhere(ctx, d.sqlDB, `shard = ? ORDER BY offset DESC LIMIT 1`, shard)
	if err != nil {
		return FileEntry{}, false, err
	}
	if e == nil {
		return FileEntry{}, false, nil
	}
	return *e, true, nil
}

func lookupFileQuerierWhere(ctx context.Context, q querier, whereOrder string, args ...interface{}) (*FileEntry, error) {
	var e FileEntry
	var crcN, modeN, uidN, gidN, mtimeN sql.NullInt64
	row := q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE `+whereOrder, args...)
	if err := row.Scan(&e.Path, &e.Parent, &e.Shard, &e.Offset, &e.Size, &crcN, &modeN, &uidN, &gidN, &mtimeN); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if crcN.Valid {
		c := uint32(crcN.Int64)
		e.CRC32C = &c
	}
	e.Mode = nullIntToUint32Ptr(modeN)
	e.UID = nullIntToUint32Ptr(uidN)
	e.GID = nullIntToUint32Ptr(gidN)
	if mtimeN.Valid {
		mt := mtimeN.Int64
		e.MtimeNs = &mt
	}
	return &e, nil
}
